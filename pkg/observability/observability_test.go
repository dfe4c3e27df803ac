package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passing(context.Context) error { return nil }

func TestHealthCheckerStatus(t *testing.T) {
	ctx := context.Background()
	down := func(context.Context) error { return errors.New("down") }

	tests := []struct {
		name   string
		checks []ComponentCheck
		want   HealthStatus
	}{
		{"no checks", nil, HealthStatusHealthy},
		{"all passing", []ComponentCheck{EventStoreCheck("memory", passing), AgentCheck("runtime", passing)}, HealthStatusHealthy},
		{"agent failing", []ComponentCheck{EventStoreCheck("memory", passing), AgentCheck("runtime", down)}, HealthStatusDegraded},
		{"publisher failing", []ComponentCheck{PublisherCheck("redis", down)}, HealthStatusDegraded},
		{"store failing", []ComponentCheck{AgentCheck("runtime", down), EventStoreCheck("redis", down)}, HealthStatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker()
			for _, c := range tt.checks {
				hc.Register(c)
			}
			report := hc.Check(ctx)
			assert.Equal(t, tt.want, report.Status)
			assert.Len(t, report.Components, len(tt.checks))
		})
	}
}

func TestHealthReportNamesBackend(t *testing.T) {
	hc := NewHealthChecker()
	hc.Register(EventStoreCheck("sqlite", func(context.Context) error { return errors.New("disk I/O error") }))
	hc.Register(PublisherCheck("redis", passing))

	report := hc.Check(context.Background())
	store := report.Components["eventstore"]
	assert.Equal(t, "sqlite", store.Backend)
	assert.True(t, store.Critical)
	assert.Equal(t, HealthStatusUnhealthy, store.Status)
	assert.Equal(t, "disk I/O error", store.Error)

	pub := report.Components["publisher"]
	assert.Equal(t, "redis", pub.Backend)
	assert.False(t, pub.Critical)
	assert.Equal(t, HealthStatusHealthy, pub.Status)
	assert.Empty(t, pub.Error)
}

func TestHealthCheckerRegisterReplaces(t *testing.T) {
	hc := NewHealthChecker()
	hc.Register(EventStoreCheck("memory", func(context.Context) error { return errors.New("down") }))
	hc.Register(EventStoreCheck("memory", passing))

	report := hc.Check(context.Background())
	assert.Equal(t, HealthStatusHealthy, report.Status)
	assert.Len(t, report.Components, 1)
}

func TestHealthCheckTimeout(t *testing.T) {
	hc := NewHealthChecker()
	hc.Register(ComponentCheck{
		Name:     "slow",
		Critical: true,
		Timeout:  20 * time.Millisecond,
		Probe: func(ctx context.Context) error {
			<-ctx.Done()
			time.Sleep(50 * time.Millisecond)
			return nil
		},
	})

	report := hc.Check(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, report.Status)
	assert.Contains(t, report.Components["slow"].Error, "deadline exceeded")
}

func TestReadinessIgnoresDegradedComponents(t *testing.T) {
	prev := defaultChecker
	defaultChecker = NewHealthChecker()
	t.Cleanup(func() { defaultChecker = prev })

	ready := func() int {
		rec := httptest.NewRecorder()
		ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		return rec.Code
	}

	defaultChecker.Register(EventStoreCheck("memory", passing))
	defaultChecker.Register(AgentCheck("runtime", func(context.Context) error { return errors.New("refused") }))
	assert.Equal(t, http.StatusOK, ready())

	rec := httptest.NewRecorder()
	HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var report HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, HealthStatusDegraded, report.Status)

	defaultChecker.Register(EventStoreCheck("memory", func(context.Context) error { return errors.New("closed") }))
	assert.Equal(t, http.StatusServiceUnavailable, ready())
}

func TestServerHandler(t *testing.T) {
	InitMetrics()
	SetVersion("1.2.3")
	RecordCommandRetry("send_message")

	h := NewServer(0).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var report HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "1.2.3", report.Version)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "agentcore_command_retries_total"))
}

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(eventsPublishedTotal.WithLabelValues("SessionStarted", "ok"))
	RecordPublish("SessionStarted", "ok")
	assert.Equal(t, before+1, testutil.ToFloat64(eventsPublishedTotal.WithLabelValues("SessionStarted", "ok")))

	SetGoroutines(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(goroutines))

	before = testutil.ToFloat64(eventStoreAppendsTotal.WithLabelValues("memory", "conflict"))
	RecordAppend("memory", "conflict", time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(eventStoreAppendsTotal.WithLabelValues("memory", "conflict")))
}
