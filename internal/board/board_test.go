package board

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/specgate/internal/gate"
	"github.com/fyrsmithlabs/specgate/internal/state"
)

type staticSource struct {
	snap Snapshot
	err  error
}

func (s *staticSource) Snapshot() (Snapshot, error) { return s.snap, s.err }

func TestGroupByStatus(t *testing.T) {
	byStatus := groupByStatus([]*state.Workflow{
		{ID: "b", BacklogStatus: state.BacklogOpen},
		{ID: "a", BacklogStatus: state.BacklogOpen},
		{ID: "c", BacklogStatus: state.BacklogDone},
	})

	require.Len(t, byStatus[state.BacklogOpen], 2)
	assert.Equal(t, "a", byStatus[state.BacklogOpen][0].ID, "columns sort by id")
	assert.Len(t, byStatus[state.BacklogDone], 1)
}

func TestPhaseFraction(t *testing.T) {
	assert.Equal(t, 0.0, phaseFraction(state.PhaseIdle))
	assert.Equal(t, 1.0, phaseFraction(state.PhaseComplete))
	assert.Greater(t, phaseFraction(state.PhaseImplement), phaseFraction(state.PhaseTDDRed))
	assert.Equal(t, 0.0, phaseFraction(state.Phase("bogus")))
}

func TestUpdateQuitsOnQ(t *testing.T) {
	m := NewModel(&staticSource{}, time.Second)

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	model := updated.(Model)
	assert.True(t, model.quitting)
	assert.NotNil(t, cmd)
	assert.Empty(t, model.View())
}

func TestUpdateAppliesSnapshot(t *testing.T) {
	m := NewModel(&staticSource{}, time.Second)

	updated, _ := m.Update(snapshotMsg(Snapshot{
		Workflows: []*state.Workflow{
			{ID: "login", Phase: state.PhaseTDDRed, BacklogStatus: state.BacklogInProgress},
		},
		ActiveID: "login",
		Checks:   4,
		Blocks:   1,
	}))
	model := updated.(Model)

	view := model.View()
	assert.True(t, strings.Contains(view, "login"))
	assert.True(t, strings.Contains(view, "tdd_red"))
	assert.True(t, strings.Contains(view, "in_progress"))
	assert.Len(t, model.history, 1)
}

func TestViewShowsError(t *testing.T) {
	m := NewModel(&staticSource{}, time.Second)

	updated, _ := m.Update(errMsg(assert.AnError))
	view := updated.(Model).View()
	assert.True(t, strings.Contains(view, "cannot read workflow state"))
}

func TestJournalSourceCountsRecentChecks(t *testing.T) {
	journal := gate.NewJournal(filepath.Join(t.TempDir(), "decisions.jsonl"), nil)
	journal.Append(gate.Record{Timestamp: time.Now(), Path: "a", Decision: "allow", Reason: gate.ReasonUnprotected})
	journal.Append(gate.Record{Timestamp: time.Now(), Path: "b", Decision: "block", Reason: gate.ReasonSpecMissing})
	journal.Append(gate.Record{Timestamp: time.Now().Add(-time.Hour), Path: "c", Decision: "allow", Reason: gate.ReasonUnprotected})

	source := NewJournalSource(func() ([]*state.Workflow, string, error) {
		return []*state.Workflow{{ID: "login"}}, "login", nil
	}, journal, time.Minute)

	snap, err := source.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Checks, "records older than the window are excluded")
	assert.Equal(t, 1, snap.Blocks)
	assert.Equal(t, "login", snap.ActiveID)
}
