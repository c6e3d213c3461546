package dispatch

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glasswally/internal/config"
	"glasswally/internal/event"
	"glasswally/internal/fusion"
	"glasswally/internal/state"
)

type fakeCluster struct {
	members []string
}

func (f fakeCluster) Component(accountID string) []string { return f.members }

func newTestDispatcher(t *testing.T) (*Dispatcher, *state.Store, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default().Dispatch
	cfg.OutputDir = dir
	cfg.DedupWindow = time.Hour
	cfg.HMACKeys = map[string][]byte{"default": []byte("test-key")}

	store := state.NewStore(config.Default().State)
	d, err := New(cfg, store, nil)
	require.NoError(t, err)
	return d, store, dir
}

func readLines(t *testing.T, dir, name string) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name+".jsonl"))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var lines []string
	for _, l := range splitNonEmpty(string(data)) {
		lines = append(lines, l)
	}
	return lines
}

func splitNonEmpty(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func TestDispatchAuditLogAlwaysWritesEvenForNoneTier(t *testing.T) {
	d, _, dir := newTestDispatcher(t)
	res := fusion.Result{AccountID: "acct-1", CompositeScore: 0.1, Tier: fusion.TierNone, Action: fusion.ActionNone, Evidence: []string{}}
	ev := &event.Event{AccountID: "acct-1", Timestamp: time.Now()}

	require.NoError(t, d.Dispatch(res, ev, nil))
	require.NoError(t, d.Close())

	assert.Len(t, readLines(t, dir, "audit_log"), 1)
	assert.Empty(t, readLines(t, dir, "analyst_queue"))
}

func TestDispatchLowTierGoesToAnalystQueue(t *testing.T) {
	d, _, dir := newTestDispatcher(t)
	res := fusion.Result{AccountID: "acct-2", CompositeScore: 0.40, Tier: fusion.TierLow, Action: fusion.ActionFlagForReview, Evidence: []string{}}
	ev := &event.Event{AccountID: "acct-2", Timestamp: time.Now()}

	require.NoError(t, d.Dispatch(res, ev, nil))
	require.NoError(t, d.Close())

	assert.Len(t, readLines(t, dir, "analyst_queue"), 1)
}

func TestDispatchDedupSuppressesRepeatSameTier(t *testing.T) {
	d, _, dir := newTestDispatcher(t)
	now := time.Now()
	res := fusion.Result{AccountID: "acct-3", CompositeScore: 0.6, Tier: fusion.TierMedium, Action: fusion.ActionRateLimit, Evidence: []string{}}

	ev1 := &event.Event{AccountID: "acct-3", Timestamp: now}
	ev2 := &event.Event{AccountID: "acct-3", Timestamp: now.Add(time.Minute)}

	require.NoError(t, d.Dispatch(res, ev1, nil))
	require.NoError(t, d.Dispatch(res, ev2, nil))
	require.NoError(t, d.Close())

	assert.Len(t, readLines(t, dir, "rate_limit_commands"), 1)
	assert.Len(t, readLines(t, dir, "audit_log"), 2)
}

func TestDispatchDedupAllowsAfterTierChange(t *testing.T) {
	d, _, dir := newTestDispatcher(t)
	now := time.Now()
	res1 := fusion.Result{AccountID: "acct-4", CompositeScore: 0.6, Tier: fusion.TierMedium, Action: fusion.ActionRateLimit, Evidence: []string{}}
	res2 := fusion.Result{AccountID: "acct-4", CompositeScore: 0.9, Tier: fusion.TierCritical, Action: fusion.ActionSuspendAccount, Evidence: []string{}}

	ev1 := &event.Event{AccountID: "acct-4", Timestamp: now}
	ev2 := &event.Event{AccountID: "acct-4", Timestamp: now.Add(time.Minute)}

	require.NoError(t, d.Dispatch(res1, ev1, nil))
	require.NoError(t, d.Dispatch(res2, ev2, nil))
	require.NoError(t, d.Close())

	assert.Len(t, readLines(t, dir, "rate_limit_commands"), 1)
	assert.Len(t, readLines(t, dir, "enforcement_actions"), 1)
}

func TestDispatchCriticalClusteredEmitsSignedIOCBundle(t *testing.T) {
	d, store, dir := newTestDispatcher(t)
	now := time.Now()

	ips := map[string]string{"acct-5": "203.0.113.5", "acct-6": "203.0.113.6"}
	for _, acct := range []string{"acct-5", "acct-6"} {
		require.NoError(t, store.Ingest(&event.Event{
			AccountID: acct,
			Timestamp: now,
			IPAddress: ips[acct],
			Subnet24:  "203.0.113.0/24",
			JA3:       "ja3-shared",
			JA3S:      "ja3s-shared",
		}))
	}

	res := fusion.Result{AccountID: "acct-5", CompositeScore: 0.95, Tier: fusion.TierCritical, Action: fusion.ActionClusterTakedown, Evidence: []string{}, ClusterID: 42, ClusterSize: 2}
	ev := &event.Event{AccountID: "acct-5", Timestamp: now, CanaryTokenMatch: "canary-xyz"}

	require.NoError(t, d.Dispatch(res, ev, fakeCluster{members: []string{"acct-5", "acct-6"}}))
	require.NoError(t, d.Close())

	lines := readLines(t, dir, "ioc_bundles")
	require.Len(t, lines, 1)

	var bundle IOCBundle
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &bundle))
	assert.ElementsMatch(t, []string{"acct-5", "acct-6"}, bundle.MemberIDs)
	assert.ElementsMatch(t, []string{"203.0.113.5", "203.0.113.6"}, bundle.IPAddresses)
	assert.Contains(t, bundle.Subnets, "203.0.113.0/24")
	assert.Contains(t, bundle.WatermarkTokens, "canary-xyz")
	assert.True(t, bundle.Verify([]byte("test-key")))
	assert.False(t, bundle.Verify([]byte("wrong-key")))
}

func TestDispatchOneIOCBundlePerClusterPerWindow(t *testing.T) {
	d, store, dir := newTestDispatcher(t)
	now := time.Now()

	for _, acct := range []string{"acct-8", "acct-9", "acct-10"} {
		require.NoError(t, store.Ingest(&event.Event{
			AccountID: acct,
			Timestamp: now,
			Subnet24:  "198.51.100.0/24",
			JA3:       "ja3-shared",
		}))
	}

	cluster := fakeCluster{members: []string{"acct-8", "acct-9", "acct-10"}}

	// Three members of the same cluster independently cross into
	// Critical moments apart; only the first should produce a bundle.
	for i, acct := range []string{"acct-8", "acct-9", "acct-10"} {
		res := fusion.Result{
			AccountID: acct, CompositeScore: 0.95, Tier: fusion.TierCritical,
			Action: fusion.ActionClusterTakedown, Evidence: []string{},
			ClusterID: 99, ClusterSize: 3,
		}
		ev := &event.Event{AccountID: acct, Timestamp: now.Add(time.Duration(i) * time.Second)}
		require.NoError(t, d.Dispatch(res, ev, cluster))
	}
	require.NoError(t, d.Close())

	lines := readLines(t, dir, "ioc_bundles")
	assert.Len(t, lines, 1)
}

func TestDispatchCriticalSingletonSkipsIOCBundle(t *testing.T) {
	d, _, dir := newTestDispatcher(t)
	res := fusion.Result{AccountID: "acct-7", CompositeScore: 0.95, Tier: fusion.TierCritical, Action: fusion.ActionSuspendAccount, Evidence: []string{}, ClusterSize: 1}
	ev := &event.Event{AccountID: "acct-7", Timestamp: time.Now()}

	require.NoError(t, d.Dispatch(res, ev, fakeCluster{members: []string{"acct-7"}}))
	require.NoError(t, d.Close())

	assert.Empty(t, readLines(t, dir, "ioc_bundles"))
}
