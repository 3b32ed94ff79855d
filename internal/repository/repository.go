// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/mod/semver"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Credit history page sizes.
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{db: db, driver: cfg.Driver}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

func requireKeys(tenantID, userID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if userID == "" {
		return fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}
	return nil
}

// SaveTransactionRisk upserts the latest risk assessment for a user.
func (r *SQLRepository) SaveTransactionRisk(ctx context.Context, tenantID string, rec *domain.TransactionRiskRecord) error {
	if rec == nil {
		return fmt.Errorf("%w: record is required", ErrInvalidInput)
	}
	if err := requireKeys(tenantID, rec.UserID); err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	rec.TenantID = tenantID

	result, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("encode risk result: %w", err)
	}

	query := `
		INSERT INTO transaction_risks (tenant_id, user_id, risk_score, tx_count, result, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, user_id) DO UPDATE SET
			risk_score = excluded.risk_score,
			tx_count = excluded.tx_count,
			result = excluded.result,
			updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		tenantID, rec.UserID, rec.Result.RiskScore, rec.TxCount, string(result), rec.UpdatedAt,
	)
	return err
}

// GetTransactionRisk returns the latest risk assessment for a user.
func (r *SQLRepository) GetTransactionRisk(ctx context.Context, tenantID string, userID string) (*domain.TransactionRiskRecord, error) {
	if err := requireKeys(tenantID, userID); err != nil {
		return nil, err
	}

	query := `
		SELECT tenant_id, user_id, tx_count, result, updated_at
		FROM transaction_risks
		WHERE tenant_id = ? AND user_id = ?
	`

	var (
		rec    domain.TransactionRiskRecord
		result string
	)
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, userID).Scan(
		&rec.TenantID, &rec.UserID, &rec.TxCount, &result, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(result), &rec.Result); err != nil {
		return nil, fmt.Errorf("decode risk result: %w", err)
	}
	if rec.Result.Alerts == nil {
		rec.Result.Alerts = []string{}
	}
	return &rec, nil
}

// SaveKYCCheck upserts the latest KYC verification for a user.
func (r *SQLRepository) SaveKYCCheck(ctx context.Context, tenantID string, rec *domain.KYCResult) error {
	if rec == nil {
		return fmt.Errorf("%w: record is required", ErrInvalidInput)
	}
	if err := requireKeys(tenantID, rec.UserID); err != nil {
		return err
	}
	if rec.CheckedAt.IsZero() {
		rec.CheckedAt = time.Now().UTC()
	}
	rec.TenantID = tenantID

	result, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode kyc result: %w", err)
	}

	verified := 0
	if rec.Verified {
		verified = 1
	}

	query := `
		INSERT INTO kyc_checks (tenant_id, user_id, fraud_score, verified, result, checked_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, user_id) DO UPDATE SET
			fraud_score = excluded.fraud_score,
			verified = excluded.verified,
			result = excluded.result,
			checked_at = excluded.checked_at
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		tenantID, rec.UserID, rec.FraudScore, verified, string(result), rec.CheckedAt,
	)
	return err
}

// GetKYCCheck returns the latest KYC verification for a user.
func (r *SQLRepository) GetKYCCheck(ctx context.Context, tenantID string, userID string) (*domain.KYCResult, error) {
	if err := requireKeys(tenantID, userID); err != nil {
		return nil, err
	}

	query := `SELECT result FROM kyc_checks WHERE tenant_id = ? AND user_id = ?`

	var result string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, userID).Scan(&result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec domain.KYCResult
	if err := json.Unmarshal([]byte(result), &rec); err != nil {
		return nil, fmt.Errorf("decode kyc result: %w", err)
	}
	if rec.Alerts == nil {
		rec.Alerts = []string{}
	}
	return &rec, nil
}

// SaveCreditScore appends a scoring outcome to the user's history.
func (r *SQLRepository) SaveCreditScore(ctx context.Context, tenantID string, rec *domain.CreditScoreRecord) error {
	if rec == nil {
		return fmt.Errorf("%w: record is required", ErrInvalidInput)
	}
	if err := requireKeys(tenantID, rec.UserID); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.TenantID = tenantID

	features, err := json.Marshal(rec.Features)
	if err != nil {
		return fmt.Errorf("encode features: %w", err)
	}

	query := `
		INSERT INTO credit_scores (id, tenant_id, user_id, score, tier, probability, source, features, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, tenantID, rec.UserID, rec.Score, string(rec.Tier), rec.Probability,
		rec.Source, string(features), rec.CreatedAt,
	)
	return err
}

// ListCreditScores returns the user's credit history, newest first.
func (r *SQLRepository) ListCreditScores(ctx context.Context, tenantID string, userID string, limit int) ([]*domain.CreditScoreRecord, error) {
	if err := requireKeys(tenantID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	query := `
		SELECT id, tenant_id, user_id, score, tier, probability, source, features, created_at
		FROM credit_scores
		WHERE tenant_id = ? AND user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*domain.CreditScoreRecord{}
	for rows.Next() {
		var (
			rec      domain.CreditScoreRecord
			tier     string
			features string
		)
		if err := rows.Scan(
			&rec.ID, &rec.TenantID, &rec.UserID, &rec.Score, &tier,
			&rec.Probability, &rec.Source, &features, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.Tier = domain.Tier(tier)
		if err := json.Unmarshal([]byte(features), &rec.Features); err != nil {
			return nil, fmt.Errorf("decode features for %s: %w", rec.ID, err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// SaveRuleConfig stores a rule configuration with tenant isolation.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, tenantID string, rule *domain.RuleConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	bands, err := json.Marshal(rule.Bands)
	if err != nil {
		return fmt.Errorf("encode bands: %w", err)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, tenant_id, name, description, version, expression, bands, weight, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			bands = excluded.bands,
			weight = excluded.weight,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, string(bands), rule.Weight, enabled,
		now, now,
	)
	return err
}

// GetRuleConfig returns the highest enabled version of a rule.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, bands, weight, enabled
		FROM rule_configs
		WHERE tenant_id = ? AND id = ? AND enabled = 1
	`
	configs, err := r.queryRules(ctx, query, tenantID, ruleID)
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, ErrNotFound
	}
	return configs[len(configs)-1], nil
}

// ListRuleConfigs returns all enabled rule versions for a tenant, ordered by
// rule ID and then by ascending version.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context, tenantID string) ([]*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, bands, weight, enabled
		FROM rule_configs
		WHERE tenant_id = ? AND enabled = 1
	`
	return r.queryRules(ctx, query, tenantID)
}

func (r *SQLRepository) queryRules(ctx context.Context, query string, args ...any) ([]*domain.RuleConfig, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		cfg, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.SortStableFunc(configs, func(a, b *domain.RuleConfig) int {
		if c := strings.Compare(a.ID, b.ID); c != 0 {
			return c
		}
		return CompareVersions(a.Version, b.Version)
	})
	return configs, nil
}

// CompareVersions orders rule versions numerically, so "1.10.0" sorts after
// "1.9.0". A leading "v" is optional. Versions that are not semantic versions
// sort before valid ones and fall back to plain string order among themselves.
func CompareVersions(a, b string) int {
	va, vb := canonicalVersion(a), canonicalVersion(b)
	okA, okB := semver.IsValid(va), semver.IsValid(vb)
	switch {
	case okA && okB:
		if c := semver.Compare(va, vb); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	case okA:
		return 1
	case okB:
		return -1
	default:
		return strings.Compare(a, b)
	}
}

func canonicalVersion(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.RuleConfig, error) {
	var (
		cfg         domain.RuleConfig
		description sql.NullString
		bands       string
		enabled     int
	)
	if err := row.Scan(
		&cfg.ID, &cfg.TenantID, &cfg.Name, &description,
		&cfg.Version, &cfg.Expression, &bands, &cfg.Weight, &enabled,
	); err != nil {
		return nil, err
	}
	cfg.Description = description.String
	cfg.Enabled = enabled == 1
	if err := json.Unmarshal([]byte(bands), &cfg.Bands); err != nil {
		return nil, fmt.Errorf("decode bands for rule %s: %w", cfg.ID, err)
	}
	return &cfg, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
