package api

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/agentcore-lab/agentcore/pkg/agentport"
)

// MaxInstructionLength bounds an instruction in bytes.
const MaxInstructionLength = 32 << 10

// stringRule constrains one request field.
type stringRule struct {
	Field                string
	Pattern              *regexp.Regexp
	MaxLength            int
	DisallowNullBytes    bool
	DisallowControlChars bool
}

func (r stringRule) validate(value string) error {
	if r.MaxLength > 0 && len(value) > r.MaxLength {
		return fmt.Errorf("%s exceeds max length %d", r.Field, r.MaxLength)
	}
	if !utf8.ValidString(value) {
		return fmt.Errorf("%s is not valid UTF-8", r.Field)
	}
	if r.DisallowNullBytes && strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains null bytes", r.Field)
	}
	if r.DisallowControlChars {
		for _, c := range value {
			if c < 32 && c != '\n' && c != '\t' && c != '\r' {
				return fmt.Errorf("%s contains control characters", r.Field)
			}
		}
	}
	if r.Pattern != nil && value != "" && !r.Pattern.MatchString(value) {
		return fmt.Errorf("%s must contain only letters, digits, '.', '_', '-', ':' and '@'", r.Field)
	}
	return nil
}

var (
	idPattern   = regexp.MustCompile(`^[A-Za-z0-9._:@-]+$`)
	toolPattern = regexp.MustCompile(`^[a-zA-Z0-9_:-]+$`)

	agentIDRule = stringRule{Field: "agent_id", Pattern: idPattern, MaxLength: 128}
	userIDRule  = stringRule{Field: "user_id", Pattern: idPattern, MaxLength: 128}

	instructionRule = stringRule{
		Field:                "instruction",
		MaxLength:            MaxInstructionLength,
		DisallowNullBytes:    true,
		DisallowControlChars: true,
	}
)

func (r CreateSessionRequest) validate() error {
	if err := agentIDRule.validate(r.AgentID); err != nil {
		return err
	}
	return userIDRule.validate(r.UserID)
}

func (r SendInstructionRequest) validate() error {
	if err := instructionRule.validate(r.Instruction); err != nil {
		return err
	}
	for i, tool := range r.Tools {
		if err := validateTool(tool); err != nil {
			return fmt.Errorf("tools[%d]: %w", i, err)
		}
	}
	return nil
}

// validateTool checks that a tool name is usable by every provider.
func validateTool(tool agentport.Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if len(tool.Name) > 64 {
		return fmt.Errorf("tool name too long")
	}
	if !toolPattern.MatchString(tool.Name) {
		return fmt.Errorf("invalid tool name %q: must contain only alphanumeric, underscore, hyphen, and colon", tool.Name)
	}
	return nil
}
