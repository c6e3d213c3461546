package workers

import (
	"context"

	"glasswally/internal/event"
	"glasswally/internal/state"
)

// scriptedH2Settings lists HTTP/2 SETTINGS-frame fingerprints belonging
// to known non-browser client libraries (gRPC/HTTP2 client stacks).
var scriptedH2Settings = map[string]bool{
	"h2settings-grpc-go":    true,
	"h2settings-grpc-java":  true,
	"h2settings-python-h2":  true,
}

const h2WindowSizeThreshold = 200 * 1024 * 1024

// H2GRPCWorker fires on scripted HTTP/2 tells: a known non-browser
// SETTINGS fingerprint paired with a browser User-Agent, an
// unrealistically large initial flow-control window, or a gRPC
// content-type on what claims to be a normal API call.
type H2GRPCWorker struct{}

func (H2GRPCWorker) Kind() Kind { return H2GRPC }

func (H2GRPCWorker) Analyze(ctx context.Context, ev *event.Event, snap *state.Snapshot) event.Signal {
	var score float64
	var evidence []string

	if scriptedH2Settings[ev.H2SettingsHash] && uaClaimsBrowser(ev.UserAgent) {
		score += 0.4
		evidence = append(evidence, "h2_settings_scripted_ua_browser")
	}
	if ev.H2WindowSize > h2WindowSizeThreshold {
		score += 0.4
		evidence = append(evidence, "h2_window_size_excessive")
	}
	if ev.GRPC {
		score += 0.4
		evidence = append(evidence, "grpc_content_type")
	}

	if len(evidence) == 0 {
		evidence = []string{insufficientHistory}
	}

	return clampSignal(event.Signal{
		WorkerKind: string(H2GRPC),
		Score:      event.Clamp(score),
		Evidence:   evidence,
	})
}
