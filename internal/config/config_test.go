package config

import "testing"

func TestDefaultWeightsSumToOne(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateRejectsBadWeights(t *testing.T) {
	cfg := Default()
	cfg.Fusion.Weights[0].Weight += 0.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unbalanced weights")
	}
}

func TestLowThresholdOverride(t *testing.T) {
	cfg := Default()
	cfg.LowThreshold = 0.40
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	for _, tier := range cfg.Fusion.Tiers {
		if tier.Tier == "Low" && tier.LowerBound != 0.40 {
			t.Fatalf("expected Low lower bound 0.40, got %v", tier.LowerBound)
		}
	}
}

func TestDecodeHMACKeysDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.decodeHMACKeys(); err != nil {
		t.Fatalf("decodeHMACKeys: %v", err)
	}
	if _, ok := cfg.Dispatch.HMACKeys["default"]; !ok {
		t.Fatal("expected a default HMAC key to be provisioned")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/path/glasswally.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.State.Shards != 64 {
		t.Fatalf("expected default shard count, got %d", cfg.State.Shards)
	}
}
