package storage

const schema = `
-- The 'kv' table backs the progress store: one row per namespace key.
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value BLOB NOT NULL,
    updated_at DATETIME NOT NULL
);

-- The 'cache_partitions' table lists the offline cache partitions, including empty ones.
CREATE TABLE IF NOT EXISTS cache_partitions (
    name TEXT PRIMARY KEY,
    created_at DATETIME NOT NULL
);

-- The 'cache_entries' table stores buffered responses keyed by request identity.
CREATE TABLE IF NOT EXISTS cache_entries (
    partition_name TEXT NOT NULL,
    key TEXT NOT NULL,
    status INTEGER NOT NULL,
    header TEXT NOT NULL,
    body BLOB NOT NULL,
    digest INTEGER NOT NULL,
    stored_at INTEGER NOT NULL, -- unix nanoseconds

    PRIMARY KEY (partition_name, key),
    FOREIGN KEY(partition_name) REFERENCES cache_partitions(name)
);
`
