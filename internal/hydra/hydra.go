// Package hydra maintains the cross-account pivot graph and its
// connected components, used to raise the fusion engine's composite
// score floor for accounts operating as part of a coordinated cluster.
// The edge-weight and scoring formulas are ported from the distillation
// campaign's original worker (glasswally/src/workers/hydra.rs); the
// graph maintenance machinery (union-find over a debounced dirty set)
// is this package's own, built in the shape of the correlation engine's
// state-cleanup loop.
package hydra

import (
	"context"
	"sync"
	"time"

	"log/slog"

	"glasswally/internal/config"
	"glasswally/internal/state"
)

// attributes is the fixed set of pivot attributes the graph considers,
// in the order their configured weights are summed for an edge.
var attributes = []string{
	"subnet_24",
	"payment_hash",
	"ja3",
	"ja3s",
	"h2_settings_hash",
	"system_prompt_hash",
}

// Clusterer owns the union-find forest over all known accounts and
// recomputes affected components whenever the state store's dirty set
// is drained, debounced so a burst of ingests triggers one pass.
type Clusterer struct {
	store *state.Store
	cfg   config.HydraConfig
	log   *slog.Logger

	mu     sync.RWMutex
	parent map[string]string
	rank   map[string]int
	edges  map[string]map[string]float64

	// componentMembers maps each union-find root to the set of accounts
	// in its component; it is rebuilt after every recompute.
	componentMembers map[string]map[string]struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Clusterer bound to store, using cfg's attribute
// weights and thresholds.
func New(store *state.Store, cfg config.HydraConfig, log *slog.Logger) *Clusterer {
	if log == nil {
		log = slog.Default()
	}
	return &Clusterer{
		store:            store,
		cfg:              cfg,
		log:              log,
		parent:           make(map[string]string),
		rank:             make(map[string]int),
		edges:            make(map[string]map[string]float64),
		componentMembers: make(map[string]map[string]struct{}),
		stopCh:           make(chan struct{}),
	}
}

// Start launches the debounced recompute loop.
func (c *Clusterer) Start(ctx context.Context) {
	debounce := c.cfg.DirtyDebounce
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(debounce)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.recompute()
			}
		}
	}()
}

// Stop halts the recompute loop and waits for it to exit.
func (c *Clusterer) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// recompute drains the store's dirty account set and re-links union-find
// edges for each one against every other account it currently shares a
// pivot attribute with.
func (c *Clusterer) recompute() {
	dirty := c.store.DrainDirty()
	if len(dirty) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, account := range dirty {
		c.find(account) // ensures a forest entry exists
		neighbors := c.neighborWeights(account)
		for neighbor, weight := range neighbors {
			if weight < c.cfg.EdgeDropThreshold {
				continue
			}
			c.addEdge(account, neighbor, weight)
			if weight >= c.cfg.ComponentThreshold {
				c.union(account, neighbor)
			}
		}
	}
	c.rebuildMembership()
}

func (c *Clusterer) addEdge(a, b string, weight float64) {
	if c.edges[a] == nil {
		c.edges[a] = make(map[string]float64)
	}
	if c.edges[b] == nil {
		c.edges[b] = make(map[string]float64)
	}
	c.edges[a][b] = weight
	c.edges[b][a] = weight
}

// Degree returns the number of edges surviving the drop threshold that
// touch account, used by the hydra worker's degree-saturation score.
func (c *Clusterer) Degree(account string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.edges[account])
}

// neighborWeights sums attribute weights for every account sharing at
// least one pivot value with account, per the teacher attribute_weights
// table. Weight for a neighbor is the sum of weights of every shared
// attribute; recompute merges two accounts in the union-find when that
// sum reaches ComponentThreshold.
func (c *Clusterer) neighborWeights(account string) map[string]float64 {
	weights := make(map[string]float64)
	snap := c.store.Snapshot(account, time.Now())
	if snap == nil {
		return weights
	}

	w5m := snap.Window(state.Horizon5m)
	values := map[string]string{
		"subnet_24":          firstNonEmpty(w5m.Subnets.Values()),
		"payment_hash":       firstNonEmpty(w5m.PaymentHashes.Values()),
		"ja3":                topOf(w5m.JA3),
		"ja3s":               topOf(w5m.JA3S),
		"h2_settings_hash":   topOf(w5m.H2Settings),
		"system_prompt_hash": topOf(w5m.SystemPrompt),
	}

	for _, attr := range attributes {
		value := values[attr]
		if value == "" {
			continue
		}
		attrWeight := c.cfg.AttributeWeights[attr]
		for _, other := range snap.PivotAccounts(attr, value) {
			if other == account {
				continue
			}
			weights[other] += attrWeight
		}
	}
	return weights
}

func topOf(h interface{ Top() (string, int) }) string {
	v, _ := h.Top()
	return v
}

func firstNonEmpty(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func (c *Clusterer) find(x string) string {
	if _, ok := c.parent[x]; !ok {
		c.parent[x] = x
		c.rank[x] = 0
		return x
	}
	root := x
	for c.parent[root] != root {
		root = c.parent[root]
	}
	// path compression
	for c.parent[x] != root {
		next := c.parent[x]
		c.parent[x] = root
		x = next
	}
	return root
}

func (c *Clusterer) union(a, b string) {
	ra, rb := c.find(a), c.find(b)
	if ra == rb {
		return
	}
	if c.rank[ra] < c.rank[rb] {
		ra, rb = rb, ra
	}
	c.parent[rb] = ra
	if c.rank[ra] == c.rank[rb] {
		c.rank[ra]++
	}
}

func (c *Clusterer) rebuildMembership() {
	members := make(map[string]map[string]struct{})
	for account := range c.parent {
		root := c.find(account)
		set, ok := members[root]
		if !ok {
			set = make(map[string]struct{})
			members[root] = set
		}
		set[account] = struct{}{}
	}
	c.componentMembers = members
}

// Component returns the accounts sharing account's connected component,
// including account itself. An account never seen by the graph returns
// a singleton.
func (c *Clusterer) Component(account string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	root, ok := c.parent[account]
	if !ok {
		return []string{account}
	}
	_ = root
	for comp, set := range c.componentMembers {
		if _, in := set[account]; in {
			out := make([]string, 0, len(set))
			for a := range set {
				out = append(out, a)
			}
			_ = comp
			return out
		}
	}
	return []string{account}
}

// ComponentCount returns the number of connected components currently
// tracked, exported via metrics.
func (c *Clusterer) ComponentCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.componentMembers)
}
