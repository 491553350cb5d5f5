package workflow

import (
	"fmt"

	"github.com/fyrsmithlabs/specgate/internal/state"
)

// UnknownWorkflowError reports an operation against an id that does not
// exist in the document.
type UnknownWorkflowError struct {
	ID string
}

func (e *UnknownWorkflowError) Error() string {
	return fmt.Sprintf("no workflow %q: run 'specgate start %s' or 'specgate list' to see tracked workflows", e.ID, e.ID)
}

// DuplicateError reports a start against an id that already carries
// history.
type DuplicateError struct {
	ID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("workflow %q already exists with history: use 'specgate switch %s' to resume it, or pick a new id", e.ID, e.ID)
}

// IllegalTransitionError reports a phase advance that violates the fixed
// order or a missing precondition. NextCommand names the exact command
// that would satisfy the precondition.
type IllegalTransitionError struct {
	ID          string
	From        state.Phase
	To          state.Phase
	Reason      string
	NextCommand string
}

func (e *IllegalTransitionError) Error() string {
	msg := fmt.Sprintf("workflow %q cannot move %s -> %s: %s", e.ID, e.From, e.To, e.Reason)
	if e.NextCommand != "" {
		msg += fmt.Sprintf(" (next: %s)", e.NextCommand)
	}
	return msg
}
