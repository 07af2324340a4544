// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrNotFound is returned when a record does not exist for the tenant.
var ErrNotFound = errors.New("record not found")

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

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

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

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

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}
	return nil
}

// SaveAnalysis stores an analysis result with tenant isolation. Saving an
// ID that already exists is a no-op, so cached results can be saved again.
func (r *SQLRepository) SaveAnalysis(ctx context.Context, tenantID string, result *domain.AnalysisResult) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if result == nil || result.ID == "" {
		return fmt.Errorf("%w: analysis id is required", domain.ErrInvalidInput)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode analysis: %w", err)
	}

	query := `
		INSERT INTO analyses (
			id, tenant_id, risk_score, risk_level, confidence, signal_count,
			engine_version, ruleset_version, timestamp, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		result.ID, tenantID,
		result.RiskScore, string(result.RiskLevel), result.Confidence, len(result.Signals),
		result.EngineVersion, result.RulesetVersion,
		stamp(result.Timestamp), string(payload),
	)
	return err
}

// GetAnalysis retrieves an analysis by ID with tenant isolation.
func (r *SQLRepository) GetAnalysis(ctx context.Context, tenantID string, analysisID string) (*domain.AnalysisResult, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT payload FROM analyses WHERE tenant_id = ? AND id = ?`

	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, analysisID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var result domain.AnalysisResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("failed to decode analysis: %w", err)
	}
	result.TenantID = tenantID
	return &result, nil
}

// SaveFeedback stores a user's verdict on a past analysis.
func (r *SQLRepository) SaveFeedback(ctx context.Context, tenantID string, fb *domain.Feedback) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if fb == nil || fb.ID == "" || fb.AnalysisID == "" {
		return fmt.Errorf("%w: feedback id and analysis id are required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO feedback (
			id, tenant_id, analysis_id, user_id, is_accurate,
			actual_outcome, comment, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		fb.ID, tenantID, fb.AnalysisID, fb.UserID, boolToInt(fb.IsAccurate),
		fb.ActualOutcome, fb.Comment, stamp(fb.CreatedAt),
	)
	return err
}

// SaveScamReport stores a community report and bumps the counter of every
// domain it names, in one transaction.
func (r *SQLRepository) SaveScamReport(ctx context.Context, tenantID string, report *domain.ScamReport) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if report == nil || report.ID == "" {
		return fmt.Errorf("%w: report id is required", domain.ErrInvalidInput)
	}

	createdAt := stamp(report.CreatedAt)
	domains, _ := json.Marshal(nonNil(report.Domains))
	urls, _ := json.Marshal(nonNil(report.URLs))

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO scam_reports (
			id, tenant_id, user_id, text, scam_type, domains, urls, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, r.rebind(insert),
		report.ID, tenantID, report.UserID, report.Text, report.ScamType,
		string(domains), string(urls), createdAt,
	); err != nil {
		return err
	}

	bump := `
		INSERT INTO domain_reports (domain, report_count, last_reported)
		VALUES (?, 1, ?)
		ON CONFLICT(domain) DO UPDATE SET
			report_count = domain_reports.report_count + 1,
			last_reported = excluded.last_reported
	`
	seen := make(map[string]bool, len(report.Domains))
	for _, d := range report.Domains {
		d = normalizeDomain(d)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		if _, err := tx.ExecContext(ctx, r.rebind(bump), d, createdAt); err != nil {
			return fmt.Errorf("failed to update domain %s: %w", d, err)
		}
	}

	return tx.Commit()
}

// GetDomainReport returns the community report totals for a domain.
// Domain reports are global, not tenant scoped.
func (r *SQLRepository) GetDomainReport(ctx context.Context, host string) (*domain.DomainReport, error) {
	host = normalizeDomain(host)
	if host == "" {
		return nil, fmt.Errorf("%w: domain is required", domain.ErrInvalidInput)
	}

	query := `SELECT domain, report_count, last_reported FROM domain_reports WHERE domain = ?`

	var report domain.DomainReport
	err := r.db.QueryRowContext(ctx, r.rebind(query), host).Scan(
		&report.Domain, &report.ReportCount, &report.LastReported,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// GetStats aggregates analyses, feedback and reports for a tenant.
func (r *SQLRepository) GetStats(ctx context.Context, tenantID string) (*domain.AnalysisStats, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	stats := &domain.AnalysisStats{
		ByRiskLevel: make(map[domain.RiskLevel]int),
	}

	if err := r.countByLevel(ctx, tenantID, stats); err != nil {
		return nil, err
	}

	err := r.db.QueryRowContext(ctx,
		r.rebind(`SELECT COUNT(*), COALESCE(SUM(is_accurate), 0) FROM feedback WHERE tenant_id = ?`),
		tenantID,
	).Scan(&stats.FeedbackCount, &stats.AccurateFeedback)
	if err != nil {
		return nil, err
	}

	err = r.db.QueryRowContext(ctx,
		r.rebind(`SELECT COUNT(*) FROM scam_reports WHERE tenant_id = ?`),
		tenantID,
	).Scan(&stats.ScamReports)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// countByLevel releases its rows before returning; an in-memory database
// has a single connection.
func (r *SQLRepository) countByLevel(ctx context.Context, tenantID string, stats *domain.AnalysisStats) error {
	rows, err := r.db.QueryContext(ctx,
		r.rebind(`SELECT risk_level, COUNT(*) FROM analyses WHERE tenant_id = ? GROUP BY risk_level`),
		tenantID,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var level string
		var count int
		if err := rows.Scan(&level, &count); err != nil {
			return err
		}
		stats.ByRiskLevel[domain.RiskLevel(level)] = count
		stats.TotalAnalyses += count
	}
	return rows.Err()
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
	b.Grow(len(query) + 8)
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

func normalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	return strings.TrimPrefix(d, "www.")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
