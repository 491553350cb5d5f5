// Package hook adapts the Claude Code PreToolUse protocol to the gate.
//
// The host sends one JSON event on stdin per tool invocation. Events
// without a file path (non-file tools, malformed payloads) are allowed
// at this layer after logging; anything carrying a file path goes
// through the gate, which keeps the fail-closed property for protected
// paths.
package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/specgate/internal/gate"
)

// Matcher selects the tools whose events are routed to the hook.
const Matcher = "Edit|Write|MultiEdit"

// ReasonNoFilePath marks events the gate never evaluated: non-file
// tools and unparsable payloads. Kept distinct from the gate's own
// reasons so journal and metrics vocabularies stay honest.
const ReasonNoFilePath = gate.Reason("no-file-path")

// Event is one PreToolUse notification from the host.
type Event struct {
	ToolName  string    `json:"tool_name"`
	ToolInput ToolInput `json:"tool_input"`
}

// ToolInput carries the subset of tool parameters the gate needs.
type ToolInput struct {
	FilePath string `json:"file_path"`
}

// ParseEvent decodes a single event from the stream.
func ParseEvent(r io.Reader) (Event, error) {
	var ev Event
	dec := json.NewDecoder(io.LimitReader(r, 1<<20))
	if err := dec.Decode(&ev); err != nil {
		return Event{}, fmt.Errorf("decoding hook event: %w", err)
	}
	return ev, nil
}

// Checker is the gate surface the runner needs.
type Checker interface {
	Check(ctx context.Context, path string) gate.Decision
}

// Runner evaluates hook events against the gate.
type Runner struct {
	checker Checker
	logger  *zap.Logger
}

// NewRunner builds a runner. A nil logger falls back to no-op.
func NewRunner(checker Checker, logger *zap.Logger) (*Runner, error) {
	if checker == nil {
		return nil, fmt.Errorf("checker is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{checker: checker, logger: logger}, nil
}

// Run reads one event from stdin and returns the gate's decision.
//
// Events the gate cannot act on (no file path, unparsable JSON) allow
// by default: blocking here would wedge every non-file tool the host
// runs.
func (r *Runner) Run(ctx context.Context, stdin io.Reader) gate.Decision {
	ev, err := ParseEvent(stdin)
	if err != nil {
		r.logger.Warn("unparsable hook event, allowing", zap.Error(err))
		return gate.Decision{Allowed: true, Reason: ReasonNoFilePath}
	}

	if ev.ToolInput.FilePath == "" {
		r.logger.Debug("hook event without file path, allowing",
			zap.String("tool", ev.ToolName),
		)
		return gate.Decision{Allowed: true, Reason: ReasonNoFilePath}
	}

	decision := r.checker.Check(ctx, ev.ToolInput.FilePath)
	r.logger.Debug("hook decision",
		zap.String("tool", ev.ToolName),
		zap.String("path", ev.ToolInput.FilePath),
		zap.Bool("allowed", decision.Allowed),
	)
	return decision
}
