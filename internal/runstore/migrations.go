package runstore

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    manifest_path TEXT,
    build_graph BOOLEAN NOT NULL DEFAULT FALSE,
    run_server BOOLEAN NOT NULL DEFAULT FALSE,
    engine_major INTEGER,
    status TEXT NOT NULL DEFAULT 'running',
    message TEXT,
    pct_progress REAL DEFAULT 0,
    started_at TIMESTAMP,
    finished_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`
