package store

// SQL schema constants for all proxy tables.

const schemaTranslations = `
CREATE TABLE IF NOT EXISTS translations (
    cache_key TEXT PRIMARY KEY,
    source_lang TEXT NOT NULL,
    target_lang TEXT NOT NULL,
    original_text TEXT NOT NULL,
    translated_text TEXT NOT NULL,
    provider TEXT NOT NULL,
    is_refined INTEGER NOT NULL DEFAULT 0,
    refinement_model TEXT,
    char_count INTEGER NOT NULL,
    created_at TEXT NOT NULL,
    last_accessed_at TEXT NOT NULL,
    expires_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_cleanup ON translations(last_accessed_at);
CREATE INDEX IF NOT EXISTS idx_expires ON translations(expires_at);
`

const schemaDailyUsage = `
CREATE TABLE IF NOT EXISTS daily_usage_stats (
    date TEXT NOT NULL,
    provider TEXT NOT NULL,
    request_count INTEGER NOT NULL DEFAULT 0,
    char_count INTEGER NOT NULL DEFAULT 0,
    token_input INTEGER NOT NULL DEFAULT 0,
    token_output INTEGER NOT NULL DEFAULT 0,
    cost_estimated REAL NOT NULL DEFAULT 0.0,
    PRIMARY KEY (date, provider)
);
`

const schemaExternalData = `
CREATE TABLE IF NOT EXISTS external_data (
    category TEXT PRIMARY KEY,
    data TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
`

const schemaMigrations = `
CREATE TABLE IF NOT EXISTS migrations (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// allSchemas is the ordered list of schema DDL statements that form
// the initial (version-1) database layout.
var allSchemas = []string{
	schemaTranslations,
	schemaDailyUsage,
	schemaExternalData,
	schemaMigrations,
}
