package repository

// Schema definitions for Kestrel.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactionRisks = `
CREATE TABLE IF NOT EXISTS transaction_risks (
    tenant_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    risk_score REAL NOT NULL,
    tx_count INTEGER NOT NULL,
    result TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, user_id)
);
`

const schemaKYCChecks = `
CREATE TABLE IF NOT EXISTS kyc_checks (
    tenant_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    fraud_score REAL NOT NULL,
    verified INTEGER NOT NULL,
    result TEXT NOT NULL,
    checked_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, user_id)
);
`

const schemaCreditScores = `
CREATE TABLE IF NOT EXISTS credit_scores (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    score INTEGER NOT NULL,
    tier TEXT NOT NULL,
    probability REAL NOT NULL,
    source TEXT NOT NULL,
    features TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_credit_scores_user ON credit_scores(tenant_id, user_id, created_at);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    bands TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_tenant ON rule_configs(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactionRisks,
		schemaKYCChecks,
		schemaCreditScores,
		schemaRuleConfigs,
	}
}
