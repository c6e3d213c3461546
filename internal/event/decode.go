package event

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// wireEvent is the snake_case JSONL wire shape described in the input
// adapter contract. Unknown keys are ignored by encoding/json-compatible
// decoders by default; missing keys zero-value, which is the desired
// "default to null" behavior for optional fields.
type wireEvent struct {
	EventID            uint64           `json:"event_id"`
	Timestamp          time.Time        `json:"timestamp"`
	AccountID          string           `json:"account_id"`
	IPAddress          string           `json:"ip_address"`
	CountryCode        string           `json:"country_code"`
	ASN                string           `json:"asn"`
	ASNClass           string           `json:"asn_class"`
	UserAgent          string           `json:"user_agent"`
	Model              string           `json:"model"`
	JA3                string           `json:"ja3"`
	JA3S               string           `json:"ja3s"`
	HeaderOrderHash    string           `json:"header_order_hash"`
	H2SettingsHash     string           `json:"h2_settings_hash"`
	GRPC               bool             `json:"grpc"`
	H2WindowSize       int64            `json:"h2_initial_window_size"`
	PaymentHash        string           `json:"payment_hash"`
	PromptLenTokens    int              `json:"prompt_len_tokens"`
	MaxTokensRequested int              `json:"max_tokens_requested"`
	ModelMaxTokens     int              `json:"model_max_tokens"`
	SystemPromptHash   string           `json:"system_prompt_hash"`
	SystemPromptText   string           `json:"system_prompt_text"`
	PromptText         string           `json:"prompt_text"`
	PromptStructHash   string           `json:"prompt_structural_hash"`
	PromptEmbedding    []float64        `json:"prompt_embedding"`
	ZWCharFlag         bool             `json:"zw_char_flag"`
	CanaryTokenMatch   string           `json:"canary_token_match"`
	RefusalCategory    *RefusalCategory `json:"refusal_category"`
	SchemaVersion      string           `json:"schema_version"`
}

// DecodeLine parses one JSONL record into an Event. Invalid UTF-8 or
// malformed JSON and missing required fields (account_id, timestamp) are
// reported as a single error; callers classify it as errkind.InputParse.
func DecodeLine(line []byte) (*Event, error) {
	var w wireEvent
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if w.AccountID == "" {
		return nil, fmt.Errorf("decode event: missing account_id")
	}
	if w.Timestamp.IsZero() {
		return nil, fmt.Errorf("decode event: missing timestamp")
	}

	class := AsnClass(w.ASNClass)
	switch class {
	case AsnResidential, AsnDatacenter, AsnMobile, AsnTor:
	default:
		class = AsnUnknown
	}

	subnet := subnet24(w.IPAddress)

	ev := &Event{
		EventID:              w.EventID,
		Timestamp:            w.Timestamp.UTC(),
		AccountID:            w.AccountID,
		IPAddress:            w.IPAddress,
		Subnet24:             subnet,
		Country:              w.CountryCode,
		ASN:                  w.ASN,
		ASNClass:             class,
		UserAgent:            w.UserAgent,
		Model:                w.Model,
		JA3:                  w.JA3,
		JA3S:                 w.JA3S,
		HeaderOrderHash:      w.HeaderOrderHash,
		H2SettingsHash:       w.H2SettingsHash,
		GRPC:                 w.GRPC,
		H2WindowSize:         w.H2WindowSize,
		PaymentHash:          w.PaymentHash,
		PromptLenTokens:      w.PromptLenTokens,
		MaxTokensRequested:   w.MaxTokensRequested,
		ModelMaxTokens:       w.ModelMaxTokens,
		SystemPromptHash:     w.SystemPromptHash,
		SystemPromptText:     w.SystemPromptText,
		PromptText:           w.PromptText,
		PromptStructuralHash: w.PromptStructHash,
		PromptEmbedding:      w.PromptEmbedding,
		ZeroWidthCharFlag:    w.ZWCharFlag,
		CanaryTokenMatch:     w.CanaryTokenMatch,
		RefusalCategory:      w.RefusalCategory,
		SchemaVersion:        w.SchemaVersion,
		ReceivedAt:           time.Now().UTC(),
	}
	if ev.EventID == 0 {
		ev.EventID = NewEventID()
	}
	return ev, nil
}

// subnet24 derives the /24 network for an IPv4 dotted-quad address. For
// anything else (IPv6, malformed) it returns the input unchanged so
// cross-account pivoting degrades gracefully instead of failing ingest.
func subnet24(ip string) string {
	dots := 0
	lastDot := -1
	for i, c := range ip {
		if c == '.' {
			dots++
			if dots == 3 {
				lastDot = i
				break
			}
		}
	}
	if dots == 3 && lastDot > 0 {
		return ip[:lastDot] + ".0/24"
	}
	return ip
}
