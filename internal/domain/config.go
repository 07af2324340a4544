package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `mapstructure:"server"`

	// Tier determines which infrastructure backs the service
	Tier Tier `mapstructure:"tier"`

	// Component configurations
	Repository RepositoryConfig `mapstructure:"repository"`
	Cache      CacheConfig      `mapstructure:"cache"`
	EventBus   EventBusConfig   `mapstructure:"eventbus"`

	// Analysis pipeline
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Links    LinksConfig    `mapstructure:"links"`
	AI       AIConfig       `mapstructure:"ai"`
	Usage    UsageConfig    `mapstructure:"usage"`
	Worker   WorkerConfig   `mapstructure:"worker"`

	// Observability
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // seconds
}

// AnalysisConfig holds the settings consumed by the analyzer.
type AnalysisConfig struct {
	EngineVersion   string        `mapstructure:"engine_version"`
	RulesetVersion  string        `mapstructure:"ruleset_version"`
	MaxTextLength   int           `mapstructure:"max_text_length"`
	MinAIConfidence float64       `mapstructure:"min_ai_confidence"`
	FailOpen        bool          `mapstructure:"fail_open"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`

	// Feature toggles
	EnableLinks             bool `mapstructure:"enable_links"`
	EnableSocialEngineering bool `mapstructure:"enable_social_engineering"`
	EnableAI                bool `mapstructure:"enable_ai"`
}

// LinksConfig holds link analysis settings.
type LinksConfig struct {
	MaxURLs          int           `mapstructure:"max_urls"`
	MaxWorkers       int           `mapstructure:"max_workers"`
	ExpandTimeout    time.Duration `mapstructure:"expand_timeout"`
	VirusTotalAPIKey string        `mapstructure:"virustotal_api_key"`
	VirusTotalURL    string        `mapstructure:"virustotal_url"`
}

// AIConfig holds language model settings. An empty APIKey disables the layer.
type AIConfig struct {
	Provider    string        `mapstructure:"provider"` // anthropic, openai
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// UsageConfig holds per-user quota settings. DailyLimit 0 means unlimited.
type UsageConfig struct {
	DailyLimit int `mapstructure:"daily_limit"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// WorkerConfig holds async analysis worker settings.
// Empty Tenants means every tenant.
type WorkerConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Concurrency int      `mapstructure:"concurrency"`
	Tenants     []string `mapstructure:"tenants"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-memory cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60, // AI synthesis can take up to 30s
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Analysis: AnalysisConfig{
			EngineVersion:           "3.0.0",
			RulesetVersion:          "2026.02",
			MaxTextLength:           10000,
			MinAIConfidence:         0.75,
			FailOpen:                true,
			CacheTTL:                time.Hour,
			EnableLinks:             true,
			EnableSocialEngineering: true,
			EnableAI:                true,
		},
		Links: LinksConfig{
			MaxURLs:       10,
			MaxWorkers:    10,
			ExpandTimeout: 5 * time.Second,
			VirusTotalURL: "https://www.virustotal.com/api/v3",
		},
		AI: AIConfig{
			Provider:    "anthropic",
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   4000,
			Temperature: 0.3,
			Timeout:     30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Worker: WorkerConfig{
			Enabled:     false,
			Concurrency: 4,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Worker.Enabled = true
	return cfg
}
