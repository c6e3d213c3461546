// Package config loads Glasswally's immutable runtime configuration:
// worker weights, fusion thresholds, restricted-country set, shard
// counts, sink paths, and provider HMAC keys. Configuration is loaded
// once at startup into a single Config value shared by reference;
// runtime reloads are out of scope (spec §9).
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// WorkerWeight pairs a worker's tag with its fixed fusion weight.
type WorkerWeight struct {
	Worker string  `yaml:"worker"`
	Weight float64 `yaml:"weight"`
}

// DefaultWeights is the exact weight table from the fusion spec. The sum
// must equal 1.00 within 1/10000, enforced by Validate and exercised by
// TestDefaultWeightsSumToOne.
func DefaultWeights() []WorkerWeight {
	return []WorkerWeight{
		{"fingerprint", 0.14},
		{"velocity", 0.10},
		{"cot", 0.09},
		{"embed", 0.08},
		{"hydra", 0.08},
		{"timing_cluster", 0.07},
		{"asn_classifier", 0.07},
		{"h2_grpc", 0.06},
		{"role_preamble", 0.06},
		{"pivot", 0.05},
		{"biometric", 0.05},
		{"watermark", 0.04},
		{"session_gap", 0.04},
		{"token_budget", 0.03},
		{"refusal_probe", 0.02},
		{"sequence_model", 0.02},
	}
}

// TierThreshold is the closed-lower boundary and action for one tier.
type TierThreshold struct {
	Tier       string  `yaml:"tier"`
	LowerBound float64 `yaml:"lower_bound"`
}

// DefaultTiers returns the exact closed-lower tier boundaries from the spec.
func DefaultTiers() []TierThreshold {
	return []TierThreshold{
		{"None", 0.00},
		{"Low", 0.35},
		{"Medium", 0.52},
		{"High", 0.72},
		{"Critical", 0.85},
	}
}

// StateConfig configures the sliding-window state store.
type StateConfig struct {
	Shards           int           `yaml:"shards"`
	AccountCap       int           `yaml:"account_cap"`
	Window5m         time.Duration `yaml:"window_5m"`
	Window1h         time.Duration `yaml:"window_1h"`
	Window24h        time.Duration `yaml:"window_24h"`
	Window30d        time.Duration `yaml:"window_30d"`
	ReservoirSize    int           `yaml:"reservoir_size"`
	InterArrivalRing int           `yaml:"inter_arrival_ring"`
	GCInterval       time.Duration `yaml:"gc_interval"`
}

// HydraConfig configures the cross-account pivot graph.
type HydraConfig struct {
	AttributeWeights   map[string]float64 `yaml:"attribute_weights"`
	EdgeDropThreshold  float64            `yaml:"edge_drop_threshold"`
	ComponentThreshold float64            `yaml:"component_threshold"`
	DegreeSaturation   float64            `yaml:"degree_saturation"`
	DirtyDebounce      time.Duration      `yaml:"dirty_debounce"`
}

// FusionConfig configures the fusion engine.
type FusionConfig struct {
	Weights           []WorkerWeight  `yaml:"weights"`
	RestrictedCountry []string        `yaml:"restricted_countries"`
	GeoUplift         float64         `yaml:"geo_uplift"`
	ClusterFloorBase  float64         `yaml:"cluster_floor_base"`
	ClusterFloorStep  float64         `yaml:"cluster_floor_step"`
	ClusterFloorCap   float64         `yaml:"cluster_floor_cap"`
	Tiers             []TierThreshold `yaml:"tiers"`
}

// OrchestratorConfig configures the event loop and worker budget.
type OrchestratorConfig struct {
	QueueCapacity int           `yaml:"queue_capacity"`
	WorkerBudget  time.Duration `yaml:"worker_budget"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// DispatchConfig configures the enforcement dispatcher and its sinks.
type DispatchConfig struct {
	OutputDir         string            `yaml:"output_dir"`
	DedupWindow       time.Duration     `yaml:"dedup_window"`
	SinkMaxRetries    int               `yaml:"sink_max_retries"`
	SinkRetryBackoffs []time.Duration   `yaml:"sink_retry_backoffs"`
	HMACKeysHex       map[string]string `yaml:"hmac_keys"`
	HMACKeys          map[string][]byte `yaml:"-"`
}

// ClickHouseConfig configures the optional mirrored audit_log archive.
// Zero-value Hosts disables archival entirely.
type ClickHouseConfig struct {
	Hosts           []string      `yaml:"hosts"`
	Database        string        `yaml:"database"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"-"`
	BatchSize       int           `yaml:"batch_size"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// S3Config configures optional cold-storage archival of sink
// files. Zero-value Bucket disables archival entirely.
type S3Config struct {
	Region      string        `yaml:"region"`
	Bucket      string        `yaml:"bucket"`
	Prefix      string        `yaml:"prefix"`
	Endpoint    string        `yaml:"endpoint"`
	UploadEvery time.Duration `yaml:"upload_every"`
}

// Config is the complete, immutable Glasswally runtime configuration.
type Config struct {
	MetricsAddr     string             `yaml:"metrics_addr"`
	GRPCAddr        string             `yaml:"grpc_addr"`
	LowThreshold    float64            `yaml:"low_threshold_override"`
	CentroidVersion string             `yaml:"centroid_version"`
	RedisURL        string             `yaml:"-"`
	KafkaBrokers    []string           `yaml:"-"`
	KafkaTopic      string             `yaml:"-"`
	State           StateConfig        `yaml:"state"`
	Hydra           HydraConfig        `yaml:"hydra"`
	Fusion          FusionConfig       `yaml:"fusion"`
	Orchestrator    OrchestratorConfig `yaml:"orchestrator"`
	Dispatch        DispatchConfig     `yaml:"dispatch"`
	ClickHouse      ClickHouseConfig   `yaml:"clickhouse"`
	S3              S3Config           `yaml:"s3"`
	LogLevel        string             `yaml:"log_level"`
}

// Default returns the default configuration described throughout spec §4-5.
func Default() *Config {
	return &Config{
		MetricsAddr:     ":9090",
		GRPCAddr:        ":9091",
		CentroidVersion: "v1",
		LogLevel:        "info",
		State: StateConfig{
			Shards:           64,
			AccountCap:       1_000_000,
			Window5m:         5 * time.Minute,
			Window1h:         time.Hour,
			Window24h:        24 * time.Hour,
			Window30d:        30 * 24 * time.Hour,
			ReservoirSize:    256,
			InterArrivalRing: 1024,
			GCInterval:       time.Minute,
		},
		Hydra: HydraConfig{
			AttributeWeights: map[string]float64{
				"subnet_24":          0.25,
				"payment_hash":       0.30,
				"ja3":                0.15,
				"ja3s":               0.10,
				"h2_settings_hash":   0.10,
				"system_prompt_hash": 0.10,
			},
			EdgeDropThreshold:  0.20,
			ComponentThreshold: 0.50,
			DegreeSaturation:   20,
			DirtyDebounce:      100 * time.Millisecond,
		},
		Fusion: FusionConfig{
			Weights:           DefaultWeights(),
			RestrictedCountry: []string{"CN", "RU", "KP", "IR"},
			GeoUplift:         1.15,
			ClusterFloorBase:  0.35,
			ClusterFloorStep:  0.05,
			ClusterFloorCap:   0.85,
			Tiers:             DefaultTiers(),
		},
		Orchestrator: OrchestratorConfig{
			QueueCapacity: 65536,
			WorkerBudget:  25 * time.Millisecond,
			ShutdownGrace: 5 * time.Second,
		},
		Dispatch: DispatchConfig{
			OutputDir:         "./output",
			DedupWindow:       time.Hour,
			SinkMaxRetries:    3,
			SinkRetryBackoffs: []time.Duration{50 * time.Millisecond, 250 * time.Millisecond, time.Second},
			HMACKeys:          map[string][]byte{},
			HMACKeysHex:       map[string]string{},
		},
		ClickHouse: ClickHouseConfig{
			Database:        "glasswally",
			Username:        "default",
			BatchSize:       1000,
			FlushInterval:   5 * time.Second,
			MaxRetries:      3,
			RetryDelay:      time.Second,
			ConnMaxLifetime: time.Hour,
		},
		S3: S3Config{
			Region:      "us-east-1",
			Prefix:      "glasswally/",
			UploadEvery: 10 * time.Minute,
		},
	}
}

// Load reads configuration from path (if it exists) layered over
// Default(), then applies environment overrides. A missing file is not
// an error: defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("GLASSWALLY_CONFIG_PATH")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.decodeHMACKeys(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GLASSWALLY_REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("GLASSWALLY_KAFKA_BROKERS"); v != "" {
		c.KafkaBrokers = strings.Split(v, ",")
	}
	c.KafkaTopic = "glasswally-events"
	if v := os.Getenv("GLASSWALLY_KAFKA_TOPIC"); v != "" {
		c.KafkaTopic = v
	}
	if v := os.Getenv("GLASSWALLY_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("GLASSWALLY_CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("GLASSWALLY_S3_BUCKET"); v != "" {
		c.S3.Bucket = v
	}
}

func (c *Config) decodeHMACKeys() error {
	if c.Dispatch.HMACKeys == nil {
		c.Dispatch.HMACKeys = map[string][]byte{}
	}
	for provider, hexKey := range c.Dispatch.HMACKeysHex {
		key, err := hex.DecodeString(hexKey)
		if err != nil {
			return fmt.Errorf("hmac key for provider %q: %w", provider, err)
		}
		c.Dispatch.HMACKeys[provider] = key
	}
	if _, ok := c.Dispatch.HMACKeys["default"]; !ok {
		// A development default so the pipeline is runnable without
		// operator-supplied key material; production deployments must
		// override this via hmac_keys.default in config.
		c.Dispatch.HMACKeys["default"] = []byte("glasswally-dev-signing-key-do-not-use-in-prod")
	}
	return nil
}

// Validate enforces the invariants in spec §3/§8: weights sum to 1.0
// within 1/10000, and the structural settings are sane. A failure here
// is a fatal ConfigInvalid condition at startup.
func (c *Config) Validate() error {
	var sum float64
	for _, w := range c.Fusion.Weights {
		sum += w.Weight
	}
	const precision = 10000.0
	if round(sum*precision) != int64(precision) {
		return fmt.Errorf("worker weights sum to %.6f, want 1.0", sum)
	}
	if c.State.Shards <= 0 {
		return fmt.Errorf("state.shards must be positive")
	}
	if c.Orchestrator.QueueCapacity <= 0 {
		return fmt.Errorf("orchestrator.queue_capacity must be positive")
	}
	if c.LowThreshold != 0 {
		for i := range c.Fusion.Tiers {
			if c.Fusion.Tiers[i].Tier == "Low" {
				c.Fusion.Tiers[i].LowerBound = c.LowThreshold
			}
		}
	}
	return nil
}

func round(f float64) int64 {
	if f < 0 {
		return int64(f - 0.5)
	}
	return int64(f + 0.5)
}
