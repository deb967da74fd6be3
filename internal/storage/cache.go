package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/conorfennell/ergoquiz/internal/offline"
)

// Open makes sure the named cache partition exists.
func (db *DB) Open(ctx context.Context, partition string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO cache_partitions (name, created_at)
		VALUES (?, ?)
		ON CONFLICT(name) DO NOTHING
	`, partition, db.now())
	if err != nil {
		return fmt.Errorf("failed to open partition %s: %w", partition, err)
	}
	return nil
}

// Match returns the cached entry for key in partition, or nil if absent.
func (db *DB) Match(ctx context.Context, partition, key string) (*offline.Entry, error) {
	var (
		e      offline.Entry
		header string
		digest int64
		stored int64
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT key, status, header, body, digest, stored_at
		FROM cache_entries WHERE partition_name = ? AND key = ?
	`, partition, key).Scan(&e.Key, &e.StatusCode, &header, &e.Body, &digest, &stored)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to match %s in %s: %w", key, partition, err)
	}

	e.Header = make(http.Header)
	if err := json.Unmarshal([]byte(header), &e.Header); err != nil {
		return nil, fmt.Errorf("failed to decode headers of %s in %s: %w", key, partition, err)
	}
	e.Digest = uint64(digest)
	e.StoredAt = time.Unix(0, stored)
	return &e, nil
}

// Put stores e in partition, creating the partition if needed.
func (db *DB) Put(ctx context.Context, partition string, e *offline.Entry) error {
	header, err := json.Marshal(e.Header)
	if err != nil {
		return fmt.Errorf("failed to encode headers of %s: %w", e.Key, err)
	}
	storedAt := e.StoredAt
	if storedAt.IsZero() {
		storedAt = db.now()
	}
	body := e.Body
	if body == nil {
		body = []byte{}
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cache_partitions (name, created_at)
		VALUES (?, ?)
		ON CONFLICT(name) DO NOTHING
	`, partition, db.now()); err != nil {
		return fmt.Errorf("failed to open partition %s: %w", partition, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cache_entries (partition_name, key, status, header, body, digest, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(partition_name, key) DO UPDATE SET
			status = excluded.status,
			header = excluded.header,
			body = excluded.body,
			digest = excluded.digest,
			stored_at = excluded.stored_at
	`, partition, e.Key, e.StatusCode, string(header), body, int64(e.Digest), storedAt.UnixNano()); err != nil {
		return fmt.Errorf("failed to put %s in %s: %w", e.Key, partition, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cache entry %s: %w", e.Key, err)
	}
	return nil
}

// Partitions lists every cache partition.
func (db *DB) Partitions(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT name FROM cache_partitions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan partition row: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DeletePartition removes a partition and its entries.
func (db *DB) DeletePartition(ctx context.Context, partition string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE partition_name = ?`, partition); err != nil {
		return fmt.Errorf("failed to delete entries of %s: %w", partition, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_partitions WHERE name = ?`, partition); err != nil {
		return fmt.Errorf("failed to delete partition %s: %w", partition, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit partition delete %s: %w", partition, err)
	}
	return nil
}
