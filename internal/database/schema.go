package database

// JSON-bearing columns (context, tags, llm_hints, selector) are stored
// as serialized text; matching beyond the indexed columns happens in
// application code.

var schemaSQLite = []string{
	`CREATE TABLE IF NOT EXISTS breadcrumbs (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		schema_name TEXT NOT NULL DEFAULT '',
		context TEXT NOT NULL DEFAULT '{}',
		llm_hints TEXT,
		visibility TEXT NOT NULL DEFAULT 'team',
		sensitivity TEXT NOT NULL DEFAULT 'low',
		version INTEGER NOT NULL DEFAULT 1,
		ttl TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		created_by TEXT NOT NULL DEFAULT '',
		updated_by TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_breadcrumbs_owner ON breadcrumbs(owner_id)`,
	`CREATE INDEX IF NOT EXISTS idx_breadcrumbs_schema ON breadcrumbs(schema_name)`,
	`CREATE INDEX IF NOT EXISTS idx_breadcrumbs_ttl ON breadcrumbs(ttl)`,
	`CREATE INDEX IF NOT EXISTS idx_breadcrumbs_created ON breadcrumbs(created_at, id)`,

	`CREATE TABLE IF NOT EXISTS breadcrumb_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		breadcrumb_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		title TEXT NOT NULL,
		tags TEXT NOT NULL,
		schema_name TEXT NOT NULL,
		context TEXT NOT NULL,
		updated_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_history_breadcrumb ON breadcrumb_history(breadcrumb_id, version)`,

	`CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		roles TEXT NOT NULL DEFAULT '[]',
		secret_hash TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		selector TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_agent ON subscriptions(agent_id)`,

	`CREATE TABLE IF NOT EXISTS secrets (
		id TEXT PRIMARY KEY,
		key_name TEXT NOT NULL,
		scope_type TEXT NOT NULL,
		scope_id TEXT NOT NULL,
		ciphertext TEXT NOT NULL,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(key_name, scope_type, scope_id)
	)`,

	`CREATE TABLE IF NOT EXISTS secret_audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		secret_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		action TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_secret_audit_secret ON secret_audit(secret_id)`,
}

var schemaMySQL = []string{
	`CREATE TABLE IF NOT EXISTS breadcrumbs (
		id VARCHAR(36) PRIMARY KEY,
		owner_id VARCHAR(255) NOT NULL,
		title VARCHAR(512) NOT NULL,
		tags JSON NOT NULL,
		schema_name VARCHAR(255) NOT NULL DEFAULT '',
		context JSON NOT NULL,
		llm_hints JSON,
		visibility VARCHAR(32) NOT NULL DEFAULT 'team',
		sensitivity VARCHAR(32) NOT NULL DEFAULT 'low',
		version INT NOT NULL DEFAULT 1,
		ttl TIMESTAMP NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		created_by VARCHAR(255) NOT NULL DEFAULT '',
		updated_by VARCHAR(255) NOT NULL DEFAULT '',
		INDEX idx_breadcrumbs_owner (owner_id),
		INDEX idx_breadcrumbs_schema (schema_name),
		INDEX idx_breadcrumbs_ttl (ttl),
		INDEX idx_breadcrumbs_created (created_at, id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS breadcrumb_history (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		breadcrumb_id VARCHAR(36) NOT NULL,
		version INT NOT NULL,
		title VARCHAR(512) NOT NULL,
		tags JSON NOT NULL,
		schema_name VARCHAR(255) NOT NULL,
		context JSON NOT NULL,
		updated_by VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_history_breadcrumb (breadcrumb_id, version)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS agents (
		id VARCHAR(255) PRIMARY KEY,
		owner_id VARCHAR(255) NOT NULL,
		roles JSON NOT NULL,
		secret_hash VARCHAR(512) NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS subscriptions (
		id VARCHAR(36) PRIMARY KEY,
		agent_id VARCHAR(255) NOT NULL,
		selector JSON NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_subscriptions_agent (agent_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS secrets (
		id VARCHAR(36) PRIMARY KEY,
		key_name VARCHAR(255) NOT NULL,
		scope_type VARCHAR(32) NOT NULL,
		scope_id VARCHAR(255) NOT NULL,
		ciphertext TEXT NOT NULL,
		created_by VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uniq_secret_scope (key_name, scope_type, scope_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS secret_audit (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		secret_id VARCHAR(36) NOT NULL,
		agent_id VARCHAR(255) NOT NULL,
		action VARCHAR(32) NOT NULL,
		reason VARCHAR(512) NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_secret_audit_secret (secret_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}
