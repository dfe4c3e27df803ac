package eventstore

// Option configures the in-process and Redis/SQLite stores.
type Option func(*options)

type options struct {
	outbox bool
}

// WithOutbox makes Append also write an outbox record per event, in the
// same atomic operation.
func WithOutbox() Option {
	return func(o *options) {
		o.outbox = true
	}
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
