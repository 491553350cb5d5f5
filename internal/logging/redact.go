package logging

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Field names whose string values are always redacted, compared
// case-insensitively as substrings of the key.
var redactedFieldNames = []string{
	"password", "secret", "token", "api_key",
	"authorization", "bearer", "credential", "private_key",
}

// Value patterns redacted regardless of field name. These cover the
// credential shapes the gate itself protects against.
var redactedValuePatterns = []string{
	`(?i)bearer\s+\S+`,
	`(?i)api[_-]?key[=:]\s*\S+`,
	`ghp_[A-Za-z0-9]{20,}`,
	`github_pat_[A-Za-z0-9_]{20,}`,
}

// redactingEncoder wraps a zapcore.Encoder to scrub sensitive fields.
type redactingEncoder struct {
	zapcore.Encoder
	patterns []*regexp.Regexp
}

func newRedactingEncoder(base zapcore.Encoder) (*redactingEncoder, error) {
	patterns := make([]*regexp.Regexp, 0, len(redactedValuePatterns))
	for _, p := range redactedValuePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}
	return &redactingEncoder{Encoder: base, patterns: patterns}, nil
}

func shouldRedactKey(key string) bool {
	lower := strings.ToLower(key)
	for _, name := range redactedFieldNames {
		if strings.Contains(lower, name) {
			return true
		}
	}
	return false
}

func (e *redactingEncoder) AddString(key, val string) {
	if shouldRedactKey(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return
	}
	for _, re := range e.patterns {
		if re.MatchString(val) {
			e.Encoder.AddString(key, "[REDACTED:pattern]")
			return
		}
	}
	e.Encoder.AddString(key, val)
}

func (e *redactingEncoder) AddByteString(key string, val []byte) {
	if shouldRedactKey(key) {
		e.Encoder.AddByteString(key, []byte("[REDACTED]"))
		return
	}
	e.Encoder.AddByteString(key, val)
}

func (e *redactingEncoder) AddReflected(key string, val interface{}) error {
	if shouldRedactKey(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *redactingEncoder) Clone() zapcore.Encoder {
	return &redactingEncoder{
		Encoder:  e.Encoder.Clone(),
		patterns: e.patterns,
	}
}
