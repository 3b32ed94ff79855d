// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
// Per-user assessment records are last-write-wins.
type Repository interface {
	// Transaction risk assessments (latest per user)
	SaveTransactionRisk(ctx context.Context, tenantID string, rec *TransactionRiskRecord) error
	GetTransactionRisk(ctx context.Context, tenantID string, userID string) (*TransactionRiskRecord, error)

	// KYC checks (latest per user)
	SaveKYCCheck(ctx context.Context, tenantID string, rec *KYCResult) error
	GetKYCCheck(ctx context.Context, tenantID string, userID string) (*KYCResult, error)

	// Credit score history
	SaveCreditScore(ctx context.Context, tenantID string, rec *CreditScoreRecord) error
	ListCreditScores(ctx context.Context, tenantID string, userID string, limit int) ([]*CreditScoreRecord, error)

	// Rule configuration operations
	SaveRuleConfig(ctx context.Context, tenantID string, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context, tenantID string) ([]*RuleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
