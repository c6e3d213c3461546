// Package ingestadapter feeds the orchestrator from an external source:
// a newline-delimited JSON file (tailed live or replayed at a fixed
// speed) or a Kafka topic. Every adapter decodes through
// event.DecodeLine and reports malformed lines as errkind.InputParse
// rather than failing the run.
package ingestadapter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"glasswally/internal/errkind"
	"glasswally/internal/event"
)

// Sink receives a decoded event. Orchestrator.Submit satisfies this.
type Sink func(ev *event.Event) bool

// Stats tracks a running adapter's line-level bookkeeping, exported for
// end-of-run reporting in replay mode.
type Stats struct {
	Decoded atomic.Int64
	Skipped atomic.Int64
}

// JSONLTailer follows a growing newline-delimited JSON file, emitting
// each decoded line to sink as it appears. It is built around
// bufio.Reader.ReadBytes,
// polling for new data past EOF instead of blocking on a watcher, since
// the retrieved pack carries no filesystem-notification dependency.
type JSONLTailer struct {
	path        string
	sink        Sink
	log         *slog.Logger
	pollInterval time.Duration
	Stats       Stats
}

// NewJSONLTailer builds a tailer over path. pollInterval controls how
// often the tailer retries after hitting EOF; it defaults to 200ms.
func NewJSONLTailer(path string, sink Sink, log *slog.Logger, pollInterval time.Duration) *JSONLTailer {
	if log == nil {
		log = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}
	return &JSONLTailer{path: path, sink: sink, log: log, pollInterval: pollInterval}
}

// Run blocks, tailing the file until ctx is cancelled. A file that does
// not yet exist is retried at pollInterval rather than treated as fatal,
// so the adapter can start before its upstream writer does.
func (t *JSONLTailer) Run(ctx context.Context) error {
	var f *os.File
	var err error
	for {
		f, err = os.Open(t.path)
		if err == nil {
			break
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("ingestadapter: open %s: %w", t.path, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.pollInterval):
		}
	}
	defer f.Close()

	reader := bufio.NewReaderSize(f, 1<<20)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, readErr := reader.ReadBytes('\n')
		if len(line) > 0 {
			t.handleLine(trimNewline(line))
		}
		if readErr == nil {
			continue
		}
		if readErr != io.EOF {
			return fmt.Errorf("ingestadapter: read %s: %w", t.path, readErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.pollInterval):
		}
	}
}

func (t *JSONLTailer) handleLine(line []byte) {
	if len(line) == 0 {
		return
	}
	ev, err := event.DecodeLine(line)
	if err != nil {
		t.Stats.Skipped.Add(1)
		t.log.Warn("skipping malformed event line", "error", errkind.New(errkind.InputParse, "JSONLTailer.handleLine", err))
		return
	}
	t.Stats.Decoded.Add(1)
	t.sink(ev)
}

// Replayer reads a finite JSONL file front to back and re-emits each
// event paced by the deltas between consecutive event timestamps,
// scaled by speed (2.0 replays twice as fast as the original capture;
// 0 or a negative value disables pacing and emits as fast as possible).
type Replayer struct {
	path  string
	sink  Sink
	log   *slog.Logger
	speed float64
	Stats Stats
}

// NewReplayer builds a Replayer over path.
func NewReplayer(path string, sink Sink, log *slog.Logger, speed float64) *Replayer {
	if log == nil {
		log = slog.Default()
	}
	return &Replayer{path: path, sink: sink, log: log, speed: speed}
}

// Run reads path to completion, pacing emission by event.Timestamp
// deltas when speed > 0. It returns when the file is exhausted or ctx
// is cancelled.
func (r *Replayer) Run(ctx context.Context) error {
	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("ingestadapter: open %s: %w", r.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var prevTimestamp time.Time
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		ev, decodeErr := event.DecodeLine(line)
		if decodeErr != nil {
			r.Stats.Skipped.Add(1)
			r.log.Warn("skipping malformed event line", "error", errkind.New(errkind.InputParse, "Replayer.Run", decodeErr))
			continue
		}

		if r.speed > 0 && !prevTimestamp.IsZero() {
			gap := ev.Timestamp.Sub(prevTimestamp)
			if gap > 0 {
				paced := time.Duration(float64(gap) / r.speed)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(paced):
				}
			}
		}
		prevTimestamp = ev.Timestamp

		r.Stats.Decoded.Add(1)
		r.sink(ev)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("ingestadapter: scan %s: %w", r.path, err)
	}
	return nil
}

func trimNewline(line []byte) []byte {
	n := len(line)
	if n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	n = len(line)
	if n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line
}
