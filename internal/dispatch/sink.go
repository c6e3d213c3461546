package dispatch

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"
	"time"

	"glasswally/internal/errkind"
)

// sink is one append-only JSONL output file, written under a single
// mutex so records never interleave mid-line. The retry/backoff shape
// mirrors the audit logger's synchronous-write-then-sync discipline in
// the teacher's internal/security/audit package, generalized from a
// hash-chained single log to five independent line-atomic sinks.
type sink struct {
	mu       sync.Mutex
	name     string
	f        *os.File
	w        *bufio.Writer
	backoffs []time.Duration
	maxRetry int
	degraded bool
}

func newSink(outputDir, name string, backoffs []time.Duration, maxRetry int) (*sink, error) {
	path := filepath.Join(outputDir, name+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, errkind.New(errkind.SinkIO, "newSink:"+name, err)
	}
	return &sink{
		name:     name,
		f:        f,
		w:        bufio.NewWriter(f),
		backoffs: backoffs,
		maxRetry: maxRetry,
	}, nil
}

// writeLine appends one JSON line, flushing immediately so the record
// is durable before writeLine returns. A transient failure is retried
// with the configured exponential backoff; persistent failure marks the
// sink degraded and returns the classified error.
func (s *sink) writeLine(line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= s.maxRetry; attempt++ {
		if _, err := s.w.Write(line); err == nil {
			if err := s.w.WriteByte('\n'); err == nil {
				if err := s.w.Flush(); err == nil {
					s.degraded = false
					return nil
				} else {
					lastErr = err
				}
			} else {
				lastErr = err
			}
		} else {
			lastErr = err
		}

		if attempt < len(s.backoffs) {
			time.Sleep(s.backoffs[attempt])
		}
	}

	s.degraded = true
	return errkind.New(errkind.SinkIO, "sink.writeLine:"+s.name, lastErr)
}

// Degraded reports whether the last write exhausted its retries.
func (s *sink) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

func (s *sink) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.f.Close()
}
