// Package archive mirrors dispatcher output into long-term storage: a
// batched ClickHouse insert of every audit_log record, and periodic S3
// upload of point-in-time copies of the JSONL sink files. Both are optional and disabled
// when their config section is left at its zero value. The batching and
// retry shape is grounded on the teacher's internal/storage.BatchWriter;
// the ClickHouse connection setup on internal/storage.ClickHouseClient.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"glasswally/internal/config"
)

// Record is the flattened shape of one audit_log line, mirrored into
// ClickHouse for long-range analyst queries the JSONL sinks can't serve.
type Record struct {
	Timestamp      time.Time
	AccountID      string
	CompositeScore float64
	Tier           string
	Action         string
	Evidence       []string
	ClusterID      uint64
	ClusterSize    int
}

// ClickHouseWriter batches Records and inserts them on a timer or when
// the buffer fills, whichever comes first.
type ClickHouseWriter struct {
	conn driver.Conn
	cfg  config.ClickHouseConfig
	log  *slog.Logger

	mu     sync.Mutex
	buffer []Record
	timer  *time.Timer
	closed bool

	written atomic.Uint64
	failed  atomic.Uint64
}

// NewClickHouseWriter dials ClickHouse and starts the flush timer. A nil
// return with no error never happens; callers gate construction on
// cfg.Hosts being non-empty.
func NewClickHouseWriter(cfg config.ClickHouseConfig, log *slog.Logger) (*ClickHouseWriter, error) {
	if log == nil {
		log = slog.Default()
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Hosts,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionZSTD,
		},
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: open clickhouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("archive: ping clickhouse: %w", err)
	}

	w := &ClickHouseWriter{
		conn:   conn,
		cfg:    cfg,
		log:    log,
		buffer: make([]Record, 0, cfg.BatchSize),
	}
	w.timer = time.AfterFunc(cfg.FlushInterval, w.timerFlush)
	return w, nil
}

// Write buffers rec, flushing immediately if the batch is now full.
func (w *ClickHouseWriter) Write(rec Record) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.buffer = append(w.buffer, rec)
	if len(w.buffer) >= w.cfg.BatchSize {
		w.flushLocked()
	}
}

func (w *ClickHouseWriter) timerFlush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if len(w.buffer) > 0 {
		w.flushLocked()
	}
	w.timer.Reset(w.cfg.FlushInterval)
}

func (w *ClickHouseWriter) flushLocked() {
	batch := w.buffer
	w.buffer = make([]Record, 0, w.cfg.BatchSize)

	var lastErr error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(w.cfg.RetryDelay * time.Duration(attempt))
		}
		if err := w.insertBatch(batch); err != nil {
			lastErr = err
			w.log.Warn("clickhouse batch insert failed, retrying", "attempt", attempt+1, "error", err)
			continue
		}
		w.written.Add(uint64(len(batch)))
		return
	}
	w.failed.Add(uint64(len(batch)))
	w.log.Error("clickhouse batch insert exhausted retries", "count", len(batch), "error", lastErr)
}

func (w *ClickHouseWriter) insertBatch(records []Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO detections (
			timestamp, account_id, composite_score, tier, action,
			evidence, cluster_id, cluster_size
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, rec := range records {
		if err := batch.Append(
			rec.Timestamp, rec.AccountID, rec.CompositeScore, rec.Tier,
			rec.Action, rec.Evidence, rec.ClusterID, rec.ClusterSize,
		); err != nil {
			return fmt.Errorf("append record: %w", err)
		}
	}
	return batch.Send()
}

// Close flushes any buffered records and closes the connection.
func (w *ClickHouseWriter) Close() error {
	w.mu.Lock()
	if !w.closed {
		w.timer.Stop()
		if len(w.buffer) > 0 {
			w.flushLocked()
		}
		w.closed = true
	}
	w.mu.Unlock()
	return w.conn.Close()
}

// Stats reports cumulative write counters.
func (w *ClickHouseWriter) Stats() (written, failed uint64) {
	return w.written.Load(), w.failed.Load()
}
