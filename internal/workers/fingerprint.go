package workers

import (
	"context"
	"strings"

	"glasswally/internal/event"
	"glasswally/internal/state"
)

// scriptJA3Families and scriptJA3SFamilies are the lookup tables spec.md
// §4.3 calls for ("lookup tables shipped with the build") that classify
// a TLS fingerprint as belonging to a non-browser HTTP client, ported
// from the distillation campaign's original fingerprint worker
// (glasswally/src/workers/fingerprint.rs SCRIPT_JA3 list).
var scriptJA3Families = map[string]bool{
	"3b5074b1b5d032e5620f69f9159a2749": true, // python-requests
	"6734f37431670b3ab4292b8f60f29984": true, // python-requests alt
	"b32309a26951912be7dba376398abc3b": true, // curl
	"a0e9f5d64349fb13191bc781f81f42e1": true, // curl alt
	"66918128f1b9b03303d77c6f2ead419b": true, // Go net/http
	"d7b2b1e8c9a7f6e5d4c3b2a19f8e7d6c": true, // python-httpx
	"4f9e0e2b73a8a8a9e0e2b73a8a8a9e0e": true, // python-aiohttp
}

// scriptJA3SFamilies lists server-hello fingerprints produced by the TLS
// stacks bundled with common scripting libraries (OpenSSL defaults
// without browser-style cipher ordering), used for the JA3S mismatch
// flag: a browser-family JA3 paired with one of these JA3S values means
// the TLS client hello was spoofed but the underlying stack wasn't.
var scriptJA3SFamilies = map[string]bool{
	"a95ba20f4d0f9f7f6b0a6e1c9d8e7f6a": true,
	"c3f1e2d4b5a697887766554433221100": true,
}

// FingerprintWorker implements spec.md's fingerprint detector: a
// weighted sum of JA3 entropy drop, a JA3/JA3S family mismatch flag, and
// cross-account header-order collision within the account's subnet.
type FingerprintWorker struct{}

func (FingerprintWorker) Kind() Kind { return Fingerprint }

func (FingerprintWorker) Analyze(ctx context.Context, ev *event.Event, snap *state.Snapshot) event.Signal {
	if snap == nil {
		return zeroSignal(Fingerprint, insufficientHistory)
	}
	w1h := snap.Window(state.Horizon1h)
	if w1h.Count() < 5 {
		return zeroSignal(Fingerprint, insufficientHistory)
	}

	var evidence []string

	topJA3, _ := w1h.JA3.Top()
	entropyDrop := ja3EntropyDrop(topJA3, ev.UserAgent)
	if entropyDrop > 0 {
		evidence = append(evidence, "ja3_entropy_drop")
	}

	topJA3S, _ := w1h.JA3S.Top()
	ja3sMismatch := 0.0
	if !scriptJA3Families[topJA3] && scriptJA3SFamilies[topJA3S] {
		ja3sMismatch = 1.0
		evidence = append(evidence, "ja3s_mismatch:browser_ja3_scripted_ja3s")
	}

	topHeaderHash, _ := w1h.HeaderOrder.Top()
	collision := headerOrderCollision(snap, ev, topHeaderHash)
	if collision > 0 {
		evidence = append(evidence, "header_order_collision")
	}

	score := 0.40*entropyDrop + 0.30*ja3sMismatch + 0.30*collision

	if len(evidence) == 0 {
		evidence = []string{insufficientHistory}
	}

	return clampSignal(event.Signal{
		WorkerKind: string(Fingerprint),
		Score:      score,
		Evidence:   evidence,
		ContributingFeatures: map[string]any{
			"ja3_entropy_drop":       entropyDrop,
			"ja3s_mismatch_flag":     ja3sMismatch,
			"header_order_collision": collision,
		},
	})
}

// ja3EntropyDrop scores how strongly the account's dominant JA3 looks
// like a masqueraded script client: full weight when a known
// script-client fingerprint is paired with a browser-claiming
// User-Agent (the Fingerprint-Suite "smoking gun"), half weight for a
// bare script fingerprint, zero for an apparently genuine browser JA3.
func ja3EntropyDrop(topJA3, userAgent string) float64 {
	if topJA3 == "" {
		return 0
	}
	if !scriptJA3Families[topJA3] {
		return 0
	}
	if uaClaimsBrowser(userAgent) {
		return 1.0
	}
	return 0.5
}

var browserUATokens = []string{"mozilla", "chrome", "firefox", "safari", "edge"}

func uaClaimsBrowser(ua string) bool {
	lower := strings.ToLower(ua)
	for _, tok := range browserUATokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

// headerOrderCollision is the fraction of other accounts (sharing the
// event's account's /24 subnet) that also share its top
// header_order_hash.
func headerOrderCollision(snap *state.Snapshot, ev *event.Event, topHeaderHash string) float64 {
	if topHeaderHash == "" || ev.Subnet24 == "" {
		return 0
	}
	sharingHash := snap.PivotAccounts("header_order_hash", topHeaderHash)
	sharingSubnet := snap.PivotAccounts("subnet_24", ev.Subnet24)
	if len(sharingHash) == 0 || len(sharingSubnet) == 0 {
		return 0
	}

	hashSet := make(map[string]struct{}, len(sharingHash))
	for _, a := range sharingHash {
		hashSet[a] = struct{}{}
	}

	total, matched := 0, 0
	for _, a := range sharingSubnet {
		if a == ev.AccountID {
			continue
		}
		total++
		if _, ok := hashSet[a]; ok {
			matched++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(matched) / float64(total)
}
