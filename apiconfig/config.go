package apiconfig

import "time"

type Config struct {
	Api          ApiConfig          `koanf:"api"`
	Coordination CoordinationConfig `koanf:"coordination"`
	Sandbox      SandboxConfig      `koanf:"sandbox"`
	Ledger       LedgerConfig       `koanf:"ledger"`
	Scheduler    SchedulerConfig    `koanf:"scheduler"`
	Scoring      ScoringConfig      `koanf:"scoring"`
	State        StateConfig        `koanf:"state"`
}

type ApiConfig struct {
	Port int `koanf:"port"`
}

// CoordinationConfig configures the client for the shared coordination
// service that stores pending work items and verification results.
type CoordinationConfig struct {
	Url               string        `koanf:"url"`
	ApiKey            string        `koanf:"api_key"`
	Timeout           time.Duration `koanf:"timeout"`
	VerifyTls         bool          `koanf:"verify_tls"`
	MaxRetries        int           `koanf:"max_retries"`
	BackoffInterval   time.Duration `koanf:"backoff_interval"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
	PageLimit         int           `koanf:"page_limit"`
}

// SandboxConfig configures the deterministic-execution sandbox client.
type SandboxConfig struct {
	Url            string        `koanf:"url"`
	CallTimeout    time.Duration `koanf:"call_timeout"`
	MaxConcurrent  int           `koanf:"max_concurrent"`
	MaxStaleBlocks int64         `koanf:"max_stale_blocks"`
	Mock           bool          `koanf:"mock"`
}

type LedgerConfig struct {
	Url                 string        `koanf:"url"`
	WebsocketUrl        string        `koanf:"websocket_url"`
	ValidatorId         string        `koanf:"validator_id"`
	SubmitTimeout       time.Duration `koanf:"submit_timeout"`
	WaitForFinalization bool          `koanf:"wait_for_finalization"`
}

type SchedulerConfig struct {
	TickInterval             time.Duration `koanf:"tick_interval"`
	FinalizationBufferBlocks int64         `koanf:"finalization_buffer_blocks"`
	PublishRetryBudget       int           `koanf:"publish_retry_budget"`
	WatchdogStaleAfter       time.Duration `koanf:"watchdog_stale_after"`
}

// ScoringConfig holds the weight-shaping knobs applied at window close.
// BurnFraction diverts that share of total weight to BurnId; MinWeight and
// MaxWeight are the ledger-mandated per-identity bounds.
type ScoringConfig struct {
	BurnFraction string `koanf:"burn_fraction"`
	BurnId       string `koanf:"burn_id"`
	MinWeight    string `koanf:"min_weight"`
	MaxWeight    string `koanf:"max_weight"`
}

type StateConfig struct {
	Dir string `koanf:"dir"`
}

func DefaultConfig() Config {
	return Config{
		Api: ApiConfig{Port: 9100},
		Coordination: CoordinationConfig{
			Timeout:           10 * time.Second,
			VerifyTls:         true,
			MaxRetries:        3,
			BackoffInterval:   500 * time.Millisecond,
			BackoffMultiplier: 2.0,
			PageLimit:         500,
		},
		Sandbox: SandboxConfig{
			CallTimeout:    30 * time.Second,
			MaxConcurrent:  5,
			MaxStaleBlocks: 64,
		},
		Ledger: LedgerConfig{
			SubmitTimeout:       120 * time.Second,
			WaitForFinalization: false,
		},
		Scheduler: SchedulerConfig{
			TickInterval:             15 * time.Second,
			FinalizationBufferBlocks: 5,
			PublishRetryBudget:       5,
			WatchdogStaleAfter:       10 * time.Minute,
		},
		Scoring: ScoringConfig{
			BurnFraction: "0",
			MinWeight:    "0",
			MaxWeight:    "1",
		},
		State: StateConfig{Dir: "."},
	}
}
