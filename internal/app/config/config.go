package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ghalamif/TraceFlow/internal/adapters/relay"
	"github.com/ghalamif/TraceFlow/internal/ports"
)

type Config struct {
	Policy    ports.Policy   `yaml:"policy"`
	Import    ImportConfig   `yaml:"import"`
	Relay     RelayConfig    `yaml:"relay"`
	Ingest    IngestConfig   `yaml:"ingest"`
	Timelines TimelineConfig `yaml:"timelines"`
	Metrics   MetricsConfig  `yaml:"metrics"`
	// RunID tags every timeline of this run; defaults to a fresh UUID.
	RunID string `yaml:"run_id"`
}

// ImportConfig configures recorded-trace ingestion.
type ImportConfig struct {
	// Inputs are the trace directories to import, merged into one run.
	Inputs    []string `yaml:"inputs"`
	TraceName string   `yaml:"trace_name"`
	// TraceUUID overrides the recorded trace UUID (changes timeline ids).
	TraceUUID string `yaml:"trace_uuid"`
	// Clock-origin corrections for traces recorded with a skewed epoch.
	ClockClassOffsetSeconds int64 `yaml:"clock_class_offset_seconds"`
	ClockClassOffsetNanos   int64 `yaml:"clock_class_offset_nanos"`
	ForceUnixEpoch          bool  `yaml:"force_unix_epoch"`
	// MergeStreams folds every stream onto the given stream id's timeline.
	MergeStreams *uint64 `yaml:"merge_streams"`
}

// RelayConfig configures live collection.
type RelayConfig struct {
	Addr    string `yaml:"addr"`
	Session string `yaml:"session"`
	// SessionNotFoundAction is "fail", "retry" or "end".
	SessionNotFoundAction string        `yaml:"session_not_found_action"`
	PollInterval          time.Duration `yaml:"poll_interval"`
	BufferCapacity        int           `yaml:"buffer_capacity"`
}

type IngestConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AuthToken string `yaml:"auth_token"`
	Compress  bool   `yaml:"compress"`
}

// TimelineConfig adds or overrides timeline attributes. Override entries
// win over every computed attribute; additional entries only fill gaps.
type TimelineConfig struct {
	Additional map[string]string `yaml:"additional"`
	Override   map[string]string `yaml:"override"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Policy.MaxBatchSize == 0 {
		c.Policy.MaxBatchSize = 1024
	}
	if c.Policy.FlushInterval == 0 {
		c.Policy.FlushInterval = time.Second
	}
	if c.Policy.MaxInFlight == 0 {
		c.Policy.MaxInFlight = 4
	}
	if c.Policy.IdleSleep == 0 {
		c.Policy.IdleSleep = 5 * time.Millisecond
	}
	if c.Policy.RetryInitialBackoff == 0 {
		c.Policy.RetryInitialBackoff = 50 * time.Millisecond
	}
	if c.Policy.RetryMaxBackoff == 0 {
		c.Policy.RetryMaxBackoff = 3 * time.Second
	}
	if c.Policy.RetryMultiplier == 0 {
		c.Policy.RetryMultiplier = 2
	}
	if c.Policy.MaxRetries == 0 {
		c.Policy.MaxRetries = 5
	}
	if c.Policy.ConnectTimeout == 0 {
		c.Policy.ConnectTimeout = 5 * time.Second
	}
	if c.Policy.ReadTimeout == 0 {
		c.Policy.ReadTimeout = 30 * time.Second
	}
	if c.Policy.AckTimeout == 0 {
		c.Policy.AckTimeout = 30 * time.Second
	}
	if c.Policy.ReconnectCeiling == 0 {
		c.Policy.ReconnectCeiling = 5
	}
	if c.Relay.SessionNotFoundAction == "" {
		c.Relay.SessionNotFoundAction = string(relay.SessionNotFoundFail)
	}
	if c.Relay.PollInterval == 0 {
		c.Relay.PollInterval = time.Second
	}
	if c.Relay.BufferCapacity == 0 {
		c.Relay.BufferCapacity = 4096
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9600"
	}
	if c.RunID == "" {
		c.RunID = uuid.NewString()
	}
}

func (c *Config) Validate() error {
	if c.Ingest.Endpoint == "" {
		return fmt.Errorf("ingest.endpoint is required")
	}
	if len(c.Import.Inputs) == 0 && c.Relay.Addr == "" {
		return fmt.Errorf("either import.inputs or relay.addr is required")
	}
	if c.Import.TraceUUID != "" {
		if _, err := uuid.Parse(c.Import.TraceUUID); err != nil {
			return fmt.Errorf("import.trace_uuid: %w", err)
		}
	}
	switch relay.SessionNotFoundAction(c.Relay.SessionNotFoundAction) {
	case relay.SessionNotFoundFail, relay.SessionNotFoundRetry, relay.SessionNotFoundEnd:
	default:
		return fmt.Errorf("relay.session_not_found_action must be %q, %q or %q",
			relay.SessionNotFoundFail, relay.SessionNotFoundRetry, relay.SessionNotFoundEnd)
	}
	if c.Relay.Addr != "" && c.Relay.Session == "" {
		return fmt.Errorf("relay.session is required when relay.addr is set")
	}
	if c.Policy.MaxInFlight < 1 {
		return fmt.Errorf("policy.max_in_flight must be at least 1")
	}
	return nil
}
