// Package dispatch routes fused detection results to the five
// append-only enforcement sinks, suppresses duplicate tiered emissions,
// and builds signed IOC bundles for cluster takedowns. The sink-write
// retry/degrade shape and HMAC chain-of-custody idea are grounded on the
// teacher's internal/security/audit package; the tier-to-sink routing
// table and idempotence window are this system's own, per the
// dispatcher's contract.
package dispatch

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"glasswally/internal/archive"
	"glasswally/internal/config"
	"glasswally/internal/errkind"
	"glasswally/internal/event"
	"glasswally/internal/fusion"
	"glasswally/internal/metrics"
	"glasswally/internal/state"
)

// sinkName identifies one of the five output files.
type sinkName string

const (
	sinkAuditLog             sinkName = "audit_log"
	sinkAnalystQueue         sinkName = "analyst_queue"
	sinkRateLimitCommands    sinkName = "rate_limit_commands"
	sinkEnforcementActions   sinkName = "enforcement_actions"
	sinkIOCBundles           sinkName = "ioc_bundles"
)

// record is the common envelope every tiered sink line carries.
type record struct {
	Timestamp      time.Time `json:"timestamp"`
	AccountID      string    `json:"account_id"`
	CompositeScore float64   `json:"composite_score"`
	Tier           string    `json:"tier"`
	Action         string    `json:"action"`
	Evidence       []string  `json:"evidence"`
	ClusterID      uint64    `json:"cluster_id,omitempty"`
	ClusterSize    int       `json:"cluster_size,omitempty"`
}

// ClusterLookup resolves an account's current connected-component
// membership, supplied by the hydra clusterer.
type ClusterLookup interface {
	Component(accountID string) []string
}

// Dispatcher owns the five JSONL sinks, the idempotence table, and the
// HMAC keys used to sign IOC bundles.
type Dispatcher struct {
	cfg   config.DispatchConfig
	log   *slog.Logger
	store *state.Store
	sinks map[sinkName]*sink
	dedup deduper

	iocMu      sync.Mutex
	iocEmitted map[uint64]time.Time

	chWriter *archive.ClickHouseWriter
}

// New opens all five sinks under cfg.OutputDir.
func New(cfg config.DispatchConfig, store *state.Store, log *slog.Logger) (*Dispatcher, error) {
	if log == nil {
		log = slog.Default()
	}
	names := []sinkName{sinkAuditLog, sinkAnalystQueue, sinkRateLimitCommands, sinkEnforcementActions, sinkIOCBundles}
	sinks := make(map[sinkName]*sink, len(names))
	for _, n := range names {
		s, err := newSink(cfg.OutputDir, string(n), cfg.SinkRetryBackoffs, cfg.SinkMaxRetries)
		if err != nil {
			return nil, err
		}
		sinks[n] = s
	}
	return &Dispatcher{
		cfg:        cfg,
		log:        log,
		store:      store,
		sinks:      sinks,
		dedup:      newDedupTable(cfg.DedupWindow),
		iocEmitted: make(map[uint64]time.Time),
	}, nil
}

// SetClickHouseArchive mirrors every audit_log record into w in addition
// to the local JSONL sink, for deployments that want long-range SQL
// queries over detection history. Pass nil to disable mirroring.
func (d *Dispatcher) SetClickHouseArchive(w *archive.ClickHouseWriter) {
	d.chWriter = w
}

// SetRedisDedup switches the dispatcher's idempotence table from the
// default in-process map to a Redis-backed one, for deployments running
// more than one orchestrator process against the same account space.
// Pass a nil client to revert to (or stay on) the in-process table.
func (d *Dispatcher) SetRedisDedup(client *redis.Client, window time.Duration) {
	if client == nil {
		d.dedup = newDedupTable(window)
		return
	}
	d.dedup = newRedisDedup(client, window)
}

// Dispatch routes one fused result for the event that produced it. ev is
// the triggering event (used for its timestamp and, for IOC bundles, any
// canary token it matched); cluster resolves the account's current
// component for cluster-floor-aware routing.
func (d *Dispatcher) Dispatch(res fusion.Result, ev *event.Event, cluster ClusterLookup) error {
	rec := record{
		Timestamp:      ev.Timestamp,
		AccountID:      res.AccountID,
		CompositeScore: res.CompositeScore,
		Tier:           string(res.Tier),
		Action:         string(res.Action),
		Evidence:       res.Evidence,
		ClusterID:      res.ClusterID,
		ClusterSize:    res.ClusterSize,
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return errkind.New(errkind.SinkIO, "Dispatcher.Dispatch:marshal", err)
	}

	// audit_log receives every fusion result; it is exempt from dedup.
	if err := d.sinks[sinkAuditLog].writeLine(line); err != nil {
		d.log.Error("audit_log write failed", "account_id", res.AccountID, "error", err)
	} else {
		metrics.DispatcherEmissions.WithLabelValues(string(sinkAuditLog)).Inc()
	}
	metrics.AlertsTotal.WithLabelValues(string(res.Tier)).Inc()

	if d.chWriter != nil {
		d.chWriter.Write(archive.Record{
			Timestamp:      rec.Timestamp,
			AccountID:      rec.AccountID,
			CompositeScore: rec.CompositeScore,
			Tier:           rec.Tier,
			Action:         rec.Action,
			Evidence:       rec.Evidence,
			ClusterID:      rec.ClusterID,
			ClusterSize:    rec.ClusterSize,
		})
	}

	target, ok := tierSink(res.Tier)
	if !ok {
		return nil
	}

	if !d.dedup.allow(res.AccountID, string(res.Tier), res.ClusterID, res.ClusterSize, ev.Timestamp) {
		return nil
	}

	if d.sinks[target].Degraded() && target != sinkIOCBundles {
		d.log.Warn("sink degraded, dropping non-critical emission", "sink", target, "account_id", res.AccountID)
		return nil
	}

	if err := d.sinks[target].writeLine(line); err != nil {
		d.log.Error("tiered sink write failed", "sink", target, "account_id", res.AccountID, "error", err)
		return err
	}
	metrics.DispatcherEmissions.WithLabelValues(string(target)).Inc()

	if res.Tier == fusion.TierCritical && res.ClusterSize >= 2 && cluster != nil && d.allowIOC(res.ClusterID, ev.Timestamp) {
		if err := d.emitIOCBundle(res, ev, cluster); err != nil {
			d.log.Error("ioc bundle emission failed", "account_id", res.AccountID, "error", err)
			return err
		}
		metrics.DispatcherEmissions.WithLabelValues(string(sinkIOCBundles)).Inc()
	}

	return nil
}

// allowIOC suppresses repeat IOC bundle emissions for the same cluster
// within the dedup window, so a cluster whose members cross into
// Critical one after another still produces exactly one bundle per
// takedown (spec.md §4.7, §8 scenario 3) rather than one per member.
func (d *Dispatcher) allowIOC(clusterID uint64, now time.Time) bool {
	d.iocMu.Lock()
	defer d.iocMu.Unlock()

	if last, ok := d.iocEmitted[clusterID]; ok && now.Sub(last) < d.cfg.DedupWindow {
		return false
	}
	d.iocEmitted[clusterID] = now
	return true
}

// tierSink maps an enforcement tier to its dedicated output sink.
// TierNone produces no tiered emission; audit_log already recorded it.
func tierSink(tier fusion.Tier) (sinkName, bool) {
	switch tier {
	case fusion.TierLow:
		return sinkAnalystQueue, true
	case fusion.TierMedium:
		return sinkRateLimitCommands, true
	case fusion.TierHigh, fusion.TierCritical:
		return sinkEnforcementActions, true
	default:
		return "", false
	}
}

// emitIOCBundle assembles and signs the cluster payload for a Critical
// takedown and writes it to ioc_bundles.jsonl.
func (d *Dispatcher) emitIOCBundle(res fusion.Result, ev *event.Event, cluster ClusterLookup) error {
	members := cluster.Component(res.AccountID)

	var ips, subnets, ja3, ja3s, h2, payments, watermarks []string
	var first, last time.Time

	for _, member := range members {
		as, ok := d.store.Get(member)
		if !ok {
			continue
		}
		snap := as.Snapshot(ev.Timestamp)
		w := snap.Window(state.Horizon24h)

		ips = append(ips, w.IPAddresses.Values()...)
		subnets = append(subnets, w.Subnets.Values()...)
		ja3 = append(ja3, w.JA3.Keys()...)
		ja3s = append(ja3s, w.JA3S.Keys()...)
		h2 = append(h2, w.H2Settings.Keys()...)
		payments = append(payments, w.PaymentHashes.Values()...)

		times := w.Times()
		if len(times) > 0 {
			if first.IsZero() || times[0].Before(first) {
				first = times[0]
			}
			if last.IsZero() || times[len(times)-1].After(last) {
				last = times[len(times)-1]
			}
		}
	}
	if ev.CanaryTokenMatch != "" {
		watermarks = append(watermarks, ev.CanaryTokenMatch)
	}

	bundle := IOCBundle{
		Timestamp:       ev.Timestamp,
		ClusterID:       res.ClusterID,
		MemberIDs:       sortedUnique(members),
		IPAddresses:     sortedUnique(ips),
		Subnets:         sortedUnique(subnets),
		JA3Hashes:       sortedUnique(ja3),
		JA3SHashes:      sortedUnique(ja3s),
		H2Settings:      sortedUnique(h2),
		PaymentHashes:   sortedUnique(payments),
		WatermarkTokens: sortedUnique(watermarks),
		FirstSeen:       first,
		LastSeen:        last,
	}

	key := d.cfg.HMACKeys["default"]
	if err := bundle.sign(key); err != nil {
		return errkind.New(errkind.SinkIO, "Dispatcher.emitIOCBundle:sign", err)
	}

	line, err := json.Marshal(bundle)
	if err != nil {
		return errkind.New(errkind.SinkIO, "Dispatcher.emitIOCBundle:marshal", err)
	}
	return d.sinks[sinkIOCBundles].writeLine(line)
}

// Close flushes and closes every sink and, if set, the ClickHouse archive.
func (d *Dispatcher) Close() error {
	var firstErr error
	for _, s := range d.sinks {
		if err := s.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if d.chWriter != nil {
		if err := d.chWriter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
