package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations. The SQL is limited
// to what both sqlite and postgres accept. Each migration's version must be
// sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS connections (
	id                    TEXT PRIMARY KEY,
	user_id               TEXT NOT NULL,
	provider              TEXT NOT NULL,
	name                  TEXT NOT NULL DEFAULT '',
	email                 TEXT NOT NULL DEFAULT '',
	encrypted_credentials TEXT NOT NULL DEFAULT '',
	status                TEXT NOT NULL DEFAULT 'ACTIVE',
	last_error            TEXT NOT NULL DEFAULT '',
	last_sync_at          TIMESTAMP,
	created_at            TIMESTAMP NOT NULL,
	updated_at            TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS categories (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	code        TEXT NOT NULL,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	is_active   INTEGER NOT NULL DEFAULT 1,
	is_system   INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL,
	UNIQUE(user_id, code)
);

CREATE TABLE IF NOT EXISTS rules (
	id             TEXT PRIMARY KEY,
	category_id    TEXT NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
	name           TEXT NOT NULL,
	type           TEXT NOT NULL,
	field          TEXT NOT NULL,
	pattern        TEXT NOT NULL,
	case_sensitive INTEGER NOT NULL DEFAULT 0,
	priority       INTEGER NOT NULL DEFAULT 0,
	confidence     DOUBLE PRECISION NOT NULL DEFAULT 0.9,
	is_active      INTEGER NOT NULL DEFAULT 1,
	created_at     TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS label_mappings (
	id            TEXT PRIMARY KEY,
	category_id   TEXT NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
	connection_id TEXT NOT NULL REFERENCES connections(id) ON DELETE CASCADE,
	label_name    TEXT NOT NULL,
	label_kind    TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL,
	UNIQUE(category_id, connection_id)
);

CREATE TABLE IF NOT EXISTS processed_messages (
	id                 TEXT PRIMARY KEY,
	connection_id      TEXT NOT NULL REFERENCES connections(id) ON DELETE CASCADE,
	message_id         TEXT NOT NULL,
	rfc_message_id     TEXT NOT NULL DEFAULT '',
	thread_id          TEXT NOT NULL DEFAULT '',
	category           TEXT,
	suggested_category TEXT,
	confidence         DOUBLE PRECISION NOT NULL DEFAULT 0,
	label_applied      TEXT,
	origin             TEXT NOT NULL DEFAULT '',
	rationale          TEXT NOT NULL DEFAULT '',
	matched_rule       TEXT NOT NULL DEFAULT '',
	needs_review       INTEGER NOT NULL DEFAULT 0,
	review_state       TEXT NOT NULL DEFAULT '',
	subject            TEXT NOT NULL DEFAULT '',
	sender             TEXT NOT NULL DEFAULT '',
	message_date       TIMESTAMP,
	processed_at       TIMESTAMP NOT NULL,
	reviewed_at        TIMESTAMP,
	UNIQUE(connection_id, message_id)
);

CREATE INDEX IF NOT EXISTS idx_rules_category ON rules(category_id);
CREATE INDEX IF NOT EXISTS idx_connections_user ON connections(user_id);
CREATE INDEX IF NOT EXISTS idx_processed_review ON processed_messages(connection_id, needs_review, review_state);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS audit_log (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	action      TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	details     TEXT NOT NULL DEFAULT '{}',
	created_at  TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_user_created ON audit_log(user_id, created_at);

CREATE TABLE IF NOT EXISTS llm_providers (
	user_id           TEXT PRIMARY KEY,
	provider          TEXT NOT NULL,
	model             TEXT NOT NULL DEFAULT '',
	encrypted_api_key TEXT NOT NULL DEFAULT '',
	enabled           INTEGER NOT NULL DEFAULT 1,
	updated_at        TIMESTAMP NOT NULL
);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
