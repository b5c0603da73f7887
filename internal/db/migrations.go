package db

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

const schemaVersionTable = `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`

// Timestamps are unix nanoseconds in SQLite so ordering and range scans stay
// numeric.
var sqliteMigrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS scheduled_emails (
	id             TEXT PRIMARY KEY,
	owner_email    TEXT NOT NULL,
	recipient      TEXT NOT NULL,
	subject        TEXT NOT NULL,
	body           TEXT NOT NULL DEFAULT '',
	scheduled_time INTEGER NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	created_at     INTEGER NOT NULL,
	claimed_at     INTEGER,
	sent_at        INTEGER,
	error_message  TEXT,
	credential     TEXT NOT NULL DEFAULT '',
	CHECK (status IN ('pending', 'claimed', 'sent', 'failed', 'cancelled'))
);

CREATE INDEX IF NOT EXISTS idx_scheduled_emails_due ON scheduled_emails(status, scheduled_time);
CREATE INDEX IF NOT EXISTS idx_scheduled_emails_owner ON scheduled_emails(owner_email, scheduled_time);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}

var postgresMigrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS scheduled_emails (
	id             TEXT PRIMARY KEY,
	owner_email    TEXT NOT NULL,
	recipient      TEXT NOT NULL,
	subject        TEXT NOT NULL,
	body           TEXT NOT NULL DEFAULT '',
	scheduled_time TIMESTAMPTZ NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	claimed_at     TIMESTAMPTZ,
	sent_at        TIMESTAMPTZ,
	error_message  TEXT,
	credential     TEXT NOT NULL DEFAULT '',
	CONSTRAINT scheduled_emails_status_check
		CHECK (status IN ('pending', 'claimed', 'sent', 'failed', 'cancelled'))
);

CREATE INDEX IF NOT EXISTS idx_scheduled_emails_due ON scheduled_emails(status, scheduled_time);
CREATE INDEX IF NOT EXISTS idx_scheduled_emails_owner ON scheduled_emails(owner_email, scheduled_time);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
