// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Analysis results
	SaveAnalysis(ctx context.Context, tenantID string, result *AnalysisResult) error
	GetAnalysis(ctx context.Context, tenantID string, analysisID string) (*AnalysisResult, error)

	// Feedback on past analyses
	SaveFeedback(ctx context.Context, tenantID string, fb *Feedback) error

	// Community scam reports; saving a report bumps the counter of each reported domain
	SaveScamReport(ctx context.Context, tenantID string, report *ScamReport) error
	GetDomainReport(ctx context.Context, domain string) (*DomainReport, error)

	// Aggregates
	GetStats(ctx context.Context, tenantID string) (*AnalysisStats, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}
