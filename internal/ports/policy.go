package ports

import "time"

// Policy holds the pipeline thresholds: batching, the ingest window,
// retry/backoff ceilings, and timeouts.
type Policy struct {
	// MaxBatchSize is the event count that triggers a batch submission.
	MaxBatchSize int `yaml:"max_batch_size"`
	// FlushInterval submits a partial batch that has been sitting this long.
	FlushInterval time.Duration `yaml:"flush_interval"`
	// MaxInFlight is the ingest window: the maximum number of submitted but
	// unacknowledged batches. The producer side suspends when it is full.
	MaxInFlight int `yaml:"max_in_flight"`
	// IdleSleep paces polling when live sources report no data.
	IdleSleep time.Duration `yaml:"idle_sleep"`

	// Bounded exponential backoff for transient transport failures.
	RetryInitialBackoff time.Duration `yaml:"retry_initial_backoff"`
	RetryMaxBackoff     time.Duration `yaml:"retry_max_backoff"`
	RetryMultiplier     float64       `yaml:"retry_multiplier"`
	// MaxRetries is the retry ceiling per batch; exceeding it is fatal for
	// the whole pipeline.
	MaxRetries int `yaml:"max_retries"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	// AckTimeout bounds the wait for a batch acknowledgement; detecting a
	// hung peer is treated as a transient failure.
	AckTimeout time.Duration `yaml:"ack_timeout"`
	// ReconnectCeiling is the number of relay reconnection attempts before
	// the affected sources are ended with an error.
	ReconnectCeiling int `yaml:"reconnect_ceiling"`
}
