// Package orchestrator runs the per-event pipeline: ingest into the
// state store, fan out the sixteen detector workers concurrently, fuse
// their signals, and dispatch the result. The bounded-queue-plus-single-
// consumer-loop shape mirrors the correlation engine's event processing
// loop in the teacher repo, generalized from rule evaluation to worker
// fan-out.
package orchestrator

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"glasswally/internal/config"
	"glasswally/internal/dispatch"
	"glasswally/internal/errkind"
	"glasswally/internal/event"
	"glasswally/internal/fusion"
	"glasswally/internal/hydra"
	"glasswally/internal/metrics"
	"glasswally/internal/state"
	"glasswally/internal/workers"
)

// enforcementRetention is how long an account's enforcement log entries
// are kept for the pivot worker's cross-account lookback query.
const enforcementRetention = 24 * time.Hour

// Orchestrator wires the state store, worker pool, hydra clusterer,
// fusion engine and dispatcher into one sequential event-processing
// loop with a bounded ingest queue.
type Orchestrator struct {
	cfg        config.OrchestratorConfig
	store      *state.Store
	clusterer  *hydra.Clusterer
	workerSet  []workers.Worker
	fusionEng  *fusion.Engine
	dispatcher *dispatch.Dispatcher
	log        *slog.Logger

	queue    chan *event.Event
	stopOnce sync.Once
	done     chan struct{}

	resultsMu sync.RWMutex
	results   map[string]fusion.Result
}

// New builds an Orchestrator from its already-constructed collaborators.
func New(
	cfg config.OrchestratorConfig,
	store *state.Store,
	clusterer *hydra.Clusterer,
	fusionEng *fusion.Engine,
	dispatcher *dispatch.Dispatcher,
	log *slog.Logger,
) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = 65536
	}
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		clusterer:  clusterer,
		workerSet:  workers.NewAll(store, clusterer),
		fusionEng:  fusionEng,
		dispatcher: dispatcher,
		log:        log,
		queue:      make(chan *event.Event, capacity),
		done:       make(chan struct{}),
		results:    make(map[string]fusion.Result),
	}
}

// LastResult returns the most recent fusion result recorded for
// accountID, if any event has been processed for it yet. Backs the
// account-query endpoint.
func (o *Orchestrator) LastResult(accountID string) (fusion.Result, bool) {
	o.resultsMu.RLock()
	defer o.resultsMu.RUnlock()
	res, ok := o.results[accountID]
	return res, ok
}

// Submit enqueues ev for processing. If the queue is full, ev is
// dropped and events_dropped_total{reason="backpressure"} is
// incremented rather than blocking the caller.
func (o *Orchestrator) Submit(ev *event.Event) bool {
	select {
	case o.queue <- ev:
		return true
	default:
		metrics.EventsDropped.WithLabelValues("backpressure").Inc()
		o.log.Warn("queue full, dropping event", "account_id", ev.AccountID)
		return false
	}
}

// Run drains the queue until ctx is cancelled or Shutdown is called,
// then drains whatever remains for up to cfg.ShutdownGrace before
// returning.
func (o *Orchestrator) Run(ctx context.Context) {
	defer close(o.done)
	grace := o.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}

	for {
		select {
		case ev := <-o.queue:
			o.process(ctx, ev)
		case <-ctx.Done():
			deadline := time.NewTimer(grace)
			defer deadline.Stop()
			for {
				select {
				case ev := <-o.queue:
					o.process(ctx, ev)
				case <-deadline.C:
					return
				default:
					if len(o.queue) == 0 {
						return
					}
					time.Sleep(time.Millisecond)
				}
			}
		}
	}
}

// Shutdown blocks until Run has finished draining.
func (o *Orchestrator) Shutdown() {
	<-o.done
}

// process runs the full pipeline for one event: ingest, fan out
// workers, fuse, dispatch.
func (o *Orchestrator) process(ctx context.Context, ev *event.Event) {
	if err := o.store.Ingest(ev); err != nil {
		if errkind.Is(err, errkind.StateOrdering) {
			metrics.EventsDropped.WithLabelValues("state_ordering").Inc()
			return
		}
		metrics.EventsDropped.WithLabelValues("ingest_error").Inc()
		return
	}
	metrics.EventsTotal.Inc()

	snap := o.store.Snapshot(ev.AccountID, ev.Timestamp)
	signals := o.fanOut(ctx, ev, snap)

	component := o.clusterer.Component(ev.AccountID)
	cluster := fusion.ClusterView{
		ClusterID:   componentID(component),
		ClusterSize: len(component),
	}
	if len(component) <= 1 {
		cluster.ClusterSize = 0
	}

	res := o.fusionEng.Fuse(ev.AccountID, signals, ev.Country, cluster)

	o.resultsMu.Lock()
	o.results[ev.AccountID] = res
	o.resultsMu.Unlock()

	metrics.CompositeScore.Observe(res.CompositeScore)
	metrics.ClusterComponents.Set(float64(o.clusterer.ComponentCount()))
	metrics.StateAccounts.Set(float64(o.store.AccountCount()))

	if res.Tier != fusion.TierNone {
		if as, ok := o.store.Get(ev.AccountID); ok {
			as.RecordEnforcement(ev.Timestamp, string(res.Tier), enforcementRetention)
		}
	}

	if o.dispatcher != nil {
		if err := o.dispatcher.Dispatch(res, ev, o.clusterer); err != nil {
			o.log.Error("dispatch failed", "account_id", ev.AccountID, "error", err)
		}
	}
}

// fanOut runs every worker concurrently against snap, each bounded by
// the shared per-worker budget. A worker that misses its budget
// contributes a zero signal and increments worker_timeouts_total rather
// than blocking the rest of the fan-out.
func (o *Orchestrator) fanOut(ctx context.Context, ev *event.Event, snap *state.Snapshot) []event.Signal {
	signals := make([]event.Signal, len(o.workerSet))
	var wg sync.WaitGroup
	wg.Add(len(o.workerSet))

	for i, w := range o.workerSet {
		go func(i int, w workers.Worker) {
			defer wg.Done()
			signals[i] = o.analyzeWithBudget(ctx, w, ev, snap)
		}(i, w)
	}
	wg.Wait()

	for _, sig := range signals {
		metrics.WorkerSignals.WithLabelValues(sig.WorkerKind).Inc()
	}
	return signals
}

func (o *Orchestrator) analyzeWithBudget(ctx context.Context, w workers.Worker, ev *event.Event, snap *state.Snapshot) event.Signal {
	budget := o.cfg.WorkerBudget
	if budget <= 0 {
		budget = workers.Budget
	}
	wctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	result := make(chan event.Signal, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- event.Signal{WorkerKind: string(w.Kind()), Score: 0, Evidence: []string{"worker error"}}
			}
		}()
		result <- w.Analyze(wctx, ev, snap)
	}()

	select {
	case sig := <-result:
		return sig
	case <-wctx.Done():
		metrics.WorkerTimeouts.WithLabelValues(string(w.Kind())).Inc()
		return event.Signal{WorkerKind: string(w.Kind()), Score: 0, Evidence: []string{"worker timeout"}}
	}
}

// componentID derives a stable numeric id for a connected component by
// hashing only its smallest member account_id, per spec.md §4.5, so the
// id stays fixed as other members join or leave the component rather
// than mutating on every membership change.
func componentID(members []string) uint64 {
	if len(members) == 0 {
		return 0
	}
	min := members[0]
	for _, m := range members[1:] {
		if m < min {
			min = m
		}
	}
	h := fnv.New64a()
	h.Write([]byte(min))
	return h.Sum64()
}
