package ingestadapter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glasswally/internal/event"
)

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	for _, line := range lines {
		_, err := f.WriteString(line + "\n")
		require.NoError(t, err)
	}
}

func TestReplayerSkipsMalformedLinesAndCountsThem(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	writeLines(t, path, []string{
		`{"account_id":"a1","timestamp":"2026-01-01T00:00:00Z"}`,
		`not json`,
		`{"account_id":"","timestamp":"2026-01-01T00:00:01Z"}`,
		`{"account_id":"a2","timestamp":"2026-01-01T00:00:02Z"}`,
	})

	var received []*event.Event
	sink := func(ev *event.Event) bool {
		received = append(received, ev)
		return true
	}

	r := NewReplayer(path, sink, nil, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Run(ctx))

	assert.Len(t, received, 2)
	assert.Equal(t, int64(2), r.Stats.Decoded.Load())
	assert.Equal(t, int64(2), r.Stats.Skipped.Load())
}

func TestReplayerPacesEmissionBySpeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	writeLines(t, path, []string{
		`{"account_id":"a1","timestamp":"2026-01-01T00:00:00Z"}`,
		`{"account_id":"a1","timestamp":"2026-01-01T00:00:00.200Z"}`,
	})

	var timestamps []time.Time
	sink := func(ev *event.Event) bool {
		timestamps = append(timestamps, time.Now())
		return true
	}

	// 200ms of simulated time at 10x speed should take ~20ms wall time.
	r := NewReplayer(path, sink, nil, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, r.Run(ctx))
	elapsed := time.Since(start)

	require.Len(t, timestamps, 2)
	assert.Less(t, elapsed, 150*time.Millisecond)
}

func TestReplayerZeroSpeedRunsUnpaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	writeLines(t, path, []string{
		`{"account_id":"a1","timestamp":"2026-01-01T00:00:00Z"}`,
		`{"account_id":"a1","timestamp":"2026-01-01T01:00:00Z"}`,
	})

	count := 0
	sink := func(ev *event.Event) bool {
		count++
		return true
	}

	r := NewReplayer(path, sink, nil, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, r.Run(ctx))
	assert.Equal(t, 2, count)
}

func TestJSONLTailerEmitsAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tail.jsonl")
	writeLines(t, path, []string{`{"account_id":"a1","timestamp":"2026-01-01T00:00:00Z"}`})

	received := make(chan *event.Event, 8)
	sink := func(ev *event.Event) bool {
		received <- ev
		return true
	}

	tailer := NewJSONLTailer(path, sink, nil, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tailer.Run(ctx)

	select {
	case ev := <-received:
		assert.Equal(t, "a1", ev.AccountID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial line")
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"account_id":"a2","timestamp":"2026-01-01T00:00:01Z"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	select {
	case ev := <-received:
		assert.Equal(t, "a2", ev.AccountID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for appended line")
	}
}

func TestJSONLTailerWaitsForFileToAppear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-yet.jsonl")

	received := make(chan *event.Event, 1)
	sink := func(ev *event.Event) bool {
		received <- ev
		return true
	}

	tailer := NewJSONLTailer(path, sink, nil, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tailer.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	writeLines(t, path, []string{`{"account_id":"a1","timestamp":"2026-01-01T00:00:00Z"}`})

	select {
	case ev := <-received:
		assert.Equal(t, "a1", ev.AccountID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for file to appear")
	}
}
