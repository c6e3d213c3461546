package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glasswally/internal/config"
	"glasswally/internal/errkind"
	"glasswally/internal/event"
)

func testEvent(account string, ts time.Time) *event.Event {
	return &event.Event{
		EventID:            event.NewEventID(),
		Timestamp:          ts,
		AccountID:          account,
		Subnet24:           "203.0.113.0/24",
		PromptLenTokens:    120,
		MaxTokensRequested: 256,
		JA3:                "abc123",
	}
}

func TestStoreIngestAndSnapshot(t *testing.T) {
	s := NewStore(config.Default().State)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Ingest(testEvent("acct-1", base)))
	require.NoError(t, s.Ingest(testEvent("acct-1", base.Add(time.Second))))

	snap := s.Snapshot("acct-1", base.Add(2*time.Second))
	require.NotNil(t, snap)
	assert.Equal(t, 2, snap.Window(Horizon5m).Count())
	assert.Equal(t, 2, snap.ThirtyDayCount)
}

func TestStoreRejectsNonMonotonicTimestamp(t *testing.T) {
	s := NewStore(config.Default().State)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Ingest(testEvent("acct-1", base)))
	err := s.Ingest(testEvent("acct-1", base.Add(-time.Second)))
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.StateOrdering))
}

func TestCrossIndexTracksSharedPivots(t *testing.T) {
	s := NewStore(config.Default().State)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	ev1 := testEvent("acct-1", base)
	ev2 := testEvent("acct-2", base.Add(time.Second))
	ev2.Subnet24 = ev1.Subnet24

	require.NoError(t, s.Ingest(ev1))
	require.NoError(t, s.Ingest(ev2))

	assert.Equal(t, 2, s.Pivots.Subnet24.Count(ev1.Subnet24))
}

func TestDirtySetDrains(t *testing.T) {
	s := NewStore(config.Default().State)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Ingest(testEvent("acct-1", base)))

	dirty := s.DrainDirty()
	assert.Contains(t, dirty, "acct-1")
	assert.Empty(t, s.DrainDirty())
}

func TestThirtyDayCountTracksIngest(t *testing.T) {
	s := NewStore(config.Default().State)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Ingest(testEvent("acct-1", base)))
	as, ok := s.Get("acct-1")
	require.True(t, ok)
	assert.Equal(t, 1, as.ThirtyDayCount())
}
