package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glasswally/internal/config"
	"glasswally/internal/dispatch"
	"glasswally/internal/event"
	"glasswally/internal/fusion"
	"glasswally/internal/hydra"
	"glasswally/internal/state"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *state.Store) {
	t.Helper()
	cfg := config.Default()
	cfg.Dispatch.OutputDir = t.TempDir()
	cfg.Dispatch.HMACKeys = map[string][]byte{"default": []byte("k")}

	store := state.NewStore(cfg.State)
	clusterer := hydra.New(store, cfg.Hydra, nil)
	fusionEng := fusion.New(cfg.Fusion)
	d, err := dispatch.New(cfg.Dispatch, store, nil)
	require.NoError(t, err)

	o := New(cfg.Orchestrator, store, clusterer, fusionEng, d, nil)
	return o, store
}

func TestOrchestratorProcessesEventAndUpdatesState(t *testing.T) {
	o, store := newTestOrchestrator(t)
	ev := &event.Event{AccountID: "acct-1", Timestamp: time.Now(), Country: "US"}

	ctx, cancel := context.WithCancel(context.Background())
	go o.Run(ctx)

	assert.True(t, o.Submit(ev))
	time.Sleep(50 * time.Millisecond)
	cancel()
	o.Shutdown()

	assert.Equal(t, int64(1), store.AccountCount())
}

func TestOrchestratorDropsNonMonotonicEventWithoutPanicking(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	now := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	go o.Run(ctx)

	assert.True(t, o.Submit(&event.Event{AccountID: "acct-2", Timestamp: now}))
	assert.True(t, o.Submit(&event.Event{AccountID: "acct-2", Timestamp: now.Add(-time.Second)}))
	time.Sleep(50 * time.Millisecond)
	cancel()
	o.Shutdown()
}

func TestOrchestratorBackpressureDropsWhenQueueFull(t *testing.T) {
	cfg := config.Default()
	cfg.Orchestrator.QueueCapacity = 1
	cfg.Dispatch.OutputDir = t.TempDir()
	cfg.Dispatch.HMACKeys = map[string][]byte{"default": []byte("k")}

	store := state.NewStore(cfg.State)
	clusterer := hydra.New(store, cfg.Hydra, nil)
	fusionEng := fusion.New(cfg.Fusion)
	d, err := dispatch.New(cfg.Dispatch, store, nil)
	require.NoError(t, err)

	o := New(cfg.Orchestrator, store, clusterer, fusionEng, d, nil)

	ok1 := o.Submit(&event.Event{AccountID: "acct-3", Timestamp: time.Now()})
	ok2 := o.Submit(&event.Event{AccountID: "acct-3", Timestamp: time.Now()})
	assert.True(t, ok1)
	assert.False(t, ok2)
}
