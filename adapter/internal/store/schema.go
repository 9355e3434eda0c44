package store

// Schema is the profiles database DDL.
const Schema = `
CREATE TABLE IF NOT EXISTS profiles (
    domain        TEXT PRIMARY KEY,   -- top-level domain the profile serves
    spec          TEXT NOT NULL,      -- JSON: selectors per getter field
    success_rate  REAL NOT NULL DEFAULT 1.0,
    total_uses    INTEGER NOT NULL DEFAULT 0,
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS reports (
    id         TEXT PRIMARY KEY,
    domain     TEXT NOT NULL,
    area       TEXT NOT NULL,         -- which getter failed
    message    TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_reports_domain ON reports(domain, created_at);
`
