package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

// schemaAnalyses keeps the queryable fields in columns and the full
// result as JSON in payload.
const schemaAnalyses = `
CREATE TABLE IF NOT EXISTS analyses (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    risk_score INTEGER NOT NULL,
    risk_level TEXT NOT NULL,
    confidence REAL NOT NULL,
    signal_count INTEGER NOT NULL,
    engine_version TEXT NOT NULL,
    ruleset_version TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_analyses_tenant ON analyses(tenant_id);
CREATE INDEX IF NOT EXISTS idx_analyses_level ON analyses(tenant_id, risk_level);
CREATE INDEX IF NOT EXISTS idx_analyses_timestamp ON analyses(tenant_id, timestamp);
`

const schemaFeedback = `
CREATE TABLE IF NOT EXISTS feedback (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    analysis_id TEXT NOT NULL,
    user_id TEXT,
    is_accurate INTEGER NOT NULL,
    actual_outcome TEXT,
    comment TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_feedback_tenant ON feedback(tenant_id);
CREATE INDEX IF NOT EXISTS idx_feedback_analysis ON feedback(tenant_id, analysis_id);
`

const schemaScamReports = `
CREATE TABLE IF NOT EXISTS scam_reports (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    user_id TEXT,
    text TEXT NOT NULL,
    scam_type TEXT,
    domains TEXT NOT NULL,
    urls TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scam_reports_tenant ON scam_reports(tenant_id);
`

// schemaDomainReports is shared by all tenants: a domain reported by one
// tenant's users lowers its standing everywhere.
const schemaDomainReports = `
CREATE TABLE IF NOT EXISTS domain_reports (
    domain TEXT PRIMARY KEY,
    report_count INTEGER NOT NULL DEFAULT 0,
    last_reported TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaAnalyses,
		schemaFeedback,
		schemaScamReports,
		schemaDomainReports,
	}
}
