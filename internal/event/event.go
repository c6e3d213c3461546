// Package event defines the canonical per-request telemetry record that
// flows through the Glasswally detection pipeline, plus its normalization
// and validation. Every input adapter produces this shape; nothing
// downstream understands any other event representation.
package event

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var nextEventID atomic.Uint64

// AsnClass classifies the autonomous system an event's IP address belongs to.
type AsnClass string

const (
	AsnResidential AsnClass = "residential"
	AsnDatacenter  AsnClass = "datacenter"
	AsnMobile      AsnClass = "mobile"
	AsnTor         AsnClass = "tor"
	AsnUnknown     AsnClass = "unknown"
)

// Topic is one of the twelve enumerated capability buckets a prompt is
// assigned to by nearest-centroid classification (see workers.AssignTopic).
type Topic int

const NumTopics = 12

// RefusalCategory enumerates the reasons a completion was refused.
type RefusalCategory string

// SchemaVersionCurrent is the schema version this build understands. It
// is not compared against anything at runtime; the startup version check
// is the separate one between config.Config.CentroidVersion and the
// centroid data file (see workers.LoadCentroids).
const SchemaVersionCurrent = "1.0.0"

// Event is a single normalized LLM API request record. Events are
// immutable once constructed: no component may mutate a *Event after
// ingest returns.
type Event struct {
	EventID   uint64    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	AccountID string    `json:"account_id"`

	IPAddress string   `json:"ip_address"`
	Subnet24  string   `json:"subnet_24"`
	Country   string   `json:"country_code,omitempty"`
	ASN       string   `json:"asn,omitempty"`
	ASNClass  AsnClass `json:"asn_class"`
	UserAgent string   `json:"user_agent,omitempty"`
	Model     string   `json:"model,omitempty"`

	JA3             string `json:"ja3,omitempty"`
	JA3S            string `json:"ja3s,omitempty"`
	HeaderOrderHash string `json:"header_order_hash,omitempty"`
	H2SettingsHash  string `json:"h2_settings_hash,omitempty"`
	GRPC            bool   `json:"grpc,omitempty"`
	H2WindowSize    int64  `json:"h2_initial_window_size,omitempty"`

	PaymentHash string `json:"payment_hash,omitempty"`

	PromptLenTokens    int    `json:"prompt_len_tokens"`
	MaxTokensRequested int    `json:"max_tokens_requested"`
	ModelMaxTokens     int    `json:"model_max_tokens,omitempty"`
	SystemPromptHash   string `json:"system_prompt_hash,omitempty"`
	SystemPromptText   string `json:"-"` // never persisted; used only in-process by role_preamble

	PromptTopic           Topic     `json:"prompt_topic,omitempty"`
	PromptStructuralHash  string    `json:"prompt_structural_hash,omitempty"`
	PromptEmbedding       []float64 `json:"prompt_embedding,omitempty"`
	PromptText            string    `json:"-"` // never persisted; consumed by cot/watermark scans only

	ZeroWidthCharFlag  bool             `json:"zw_char_flag,omitempty"`
	CanaryTokenMatch   string           `json:"canary_token_match,omitempty"`
	RefusalCategory    *RefusalCategory `json:"refusal_category,omitempty"`

	SchemaVersion string    `json:"schema_version"`
	ReceivedAt    time.Time `json:"received_at"`
}

// NewEventID returns a monotonically increasing identifier for a single
// process's lifetime. Safe for concurrent use.
func NewEventID() uint64 {
	return nextEventID.Add(1)
}

// Signal is a single detector worker's output for one account, per the
// contract in the detection model: bounded score, ordered evidence, and
// a feature map for audit trails.
type Signal struct {
	WorkerKind          string             `json:"worker_kind"`
	Score               float64            `json:"score"`
	Evidence            []string           `json:"evidence,omitempty"`
	ContributingFeatures map[string]any    `json:"contributing_features,omitempty"`
}

// Clamp forces a score into [0, 1].
func Clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// BundleID returns a fresh random (version 4) UUID on every call.
func BundleID() uuid.UUID {
	return uuid.New()
}
