package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/specgate/internal/state"
)

func waitForEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("no event within 3s")
		return Event{}
	}
}

func TestWatcherSeesAtomicSaves(t *testing.T) {
	dir := t.TempDir()
	store, err := state.NewStore(filepath.Join(dir, "workflow_state.json"), nil)
	require.NoError(t, err)

	w, err := NewWatcher(store, nil)
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	gs, err := store.Load()
	require.NoError(t, err)
	gs.Workflows["login"] = &state.Workflow{ID: "login", Phase: state.PhaseContext}
	gs.ActiveWorkflowID = "login"
	require.NoError(t, store.Save(gs, gs.Version))

	ev := waitForEvent(t, w.Events())
	assert.Equal(t, "login", ev.ActiveID)
	assert.Equal(t, state.PhaseContext, ev.Phase)
	assert.Equal(t, int64(1), ev.Version)
	assert.Equal(t, 1, ev.Workflows)
}

func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := state.NewStore(filepath.Join(dir, "workflow_state.json"), nil)
	require.NoError(t, err)

	w, err := NewWatcher(store, nil)
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0600))

	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	store, err := state.NewStore(filepath.Join(t.TempDir(), "workflow_state.json"), nil)
	require.NoError(t, err)

	w, err := NewWatcher(store, nil)
	require.NoError(t, err)

	w.Stop()
	w.Stop()
}
