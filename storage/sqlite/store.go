// Package sqlite provides a durable audit store for detected conflicts and
// their resolutions. The in-memory conflict history remains the hot path;
// this store is an optional sink for post-hoc review.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	stdSync "sync"
	"time"

	"github.com/c0deZ3R0/collab-kit/conflict"
	kiterr "github.com/c0deZ3R0/collab-kit/errors"
	"github.com/c0deZ3R0/collab-kit/logging"
	"github.com/c0deZ3R0/collab-kit/resolve"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

const (
	opRecordConflict   = kiterr.Op("sqlite.RecordConflict")
	opRecordResolution = kiterr.Op("sqlite.RecordResolution")
	opConflictsByPage  = kiterr.Op("sqlite.ConflictsByPage")
	opResolutions      = kiterr.Op("sqlite.Resolutions")
	opMarkResolved     = kiterr.Op("sqlite.MarkResolved")
)

// ErrStoreClosed is returned by every operation after Close.
var ErrStoreClosed = errors.New("audit store is closed")

// Config holds configuration options for the AuditStore.
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// Enabled by default; appends "?_journal_mode=WAL" to DataSourceName.
	EnableWAL bool

	// Logger is optional. If nil, logging is disabled.
	Logger *logging.Logger

	// Connection pool settings.
	// Defaults: MaxOpen=25, MaxIdle=5, Lifetime=1h, IdleTime=5m
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = logging.Nop()
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL {
		if !strings.Contains(c.DataSourceName, "_journal_mode=") {
			c.DataSourceName += "?_journal_mode=WAL"
		}
	}
}

// DefaultConfig returns a Config with WAL mode and pool defaults applied.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// AuditStore persists conflict items and resolutions in SQLite.
type AuditStore struct {
	db     *sql.DB
	mu     stdSync.RWMutex
	closed bool
	logger *logging.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS conflicts (
	id             TEXT PRIMARY KEY,
	item_type      TEXT NOT NULL,
	page_name      TEXT NOT NULL,
	component_id   TEXT NOT NULL,
	content_key    TEXT,
	local_version  TEXT,
	remote_version TEXT,
	conflicted_at  TIMESTAMP NOT NULL,
	conflicted_by  TEXT NOT NULL,
	metadata       TEXT,
	status         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conflicts_page ON conflicts(page_name, conflicted_at);

CREATE TABLE IF NOT EXISTS resolutions (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	conflict_id    TEXT NOT NULL REFERENCES conflicts(id),
	strategy       TEXT NOT NULL,
	resolved_value TEXT,
	merge_result   TEXT,
	resolved_by    TEXT NOT NULL,
	resolved_at    TIMESTAMP NOT NULL,
	notes          TEXT
);
CREATE INDEX IF NOT EXISTS idx_resolutions_conflict ON resolutions(conflict_id);
`

// New opens (and if necessary creates) the audit database.
func New(config *Config) (*AuditStore, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	config.setDefaults()
	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}

	logger := config.Logger.WithComponent("sqlite-audit")
	logger.Info("opening audit database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, kiterr.NewStorageError("sqlite.New", fmt.Errorf("open database: %w", err))
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, kiterr.NewStorageError("sqlite.New", fmt.Errorf("create schema: %w", err))
	}

	return &AuditStore{db: db, logger: logger}, nil
}

// RecordConflict persists a detected conflict item.
func (s *AuditStore) RecordConflict(ctx context.Context, item conflict.Item) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return kiterr.NewStorageError(opRecordConflict, ErrStoreClosed)
	}

	local, err := json.Marshal(item.LocalVersion)
	if err != nil {
		return kiterr.NewStorageError(opRecordConflict, fmt.Errorf("encode local version: %w", err))
	}
	remote, err := json.Marshal(item.RemoteVersion)
	if err != nil {
		return kiterr.NewStorageError(opRecordConflict, fmt.Errorf("encode remote version: %w", err))
	}
	meta, err := json.Marshal(item.Metadata)
	if err != nil {
		return kiterr.NewStorageError(opRecordConflict, fmt.Errorf("encode metadata: %w", err))
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conflicts (id, item_type, page_name, component_id, content_key,
			local_version, remote_version, conflicted_at, conflicted_by, metadata, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, string(item.Type), item.PageName, item.ComponentID, item.ContentKey,
		string(local), string(remote), item.ConflictedAt.UTC(), item.ConflictedBy,
		string(meta), string(item.Status),
	)
	if err != nil {
		return kiterr.NewStorageError(opRecordConflict, err)
	}
	return nil
}

// RecordResolution persists the outcome of resolving a conflict and marks
// the conflict row resolved.
func (s *AuditStore) RecordResolution(ctx context.Context, conflictID string, res resolve.Resolution) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return kiterr.NewStorageError(opRecordResolution, ErrStoreClosed)
	}

	value, err := json.Marshal(res.ResolvedValue)
	if err != nil {
		return kiterr.NewStorageError(opRecordResolution, fmt.Errorf("encode resolved value: %w", err))
	}
	var mergeResult []byte
	if res.MergeResult != nil {
		mergeResult, err = json.Marshal(res.MergeResult)
		if err != nil {
			return kiterr.NewStorageError(opRecordResolution, fmt.Errorf("encode merge result: %w", err))
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return kiterr.NewStorageError(opRecordResolution, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO resolutions (conflict_id, strategy, resolved_value, merge_result,
			resolved_by, resolved_at, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conflictID, string(res.Strategy), string(value), nullable(mergeResult),
		res.ResolvedBy, res.ResolvedAt.UTC(), res.Notes,
	)
	if err != nil {
		return kiterr.NewStorageError(opRecordResolution, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conflicts SET status = ? WHERE id = ?`,
		string(conflict.StatusResolved), conflictID,
	); err != nil {
		return kiterr.NewStorageError(opRecordResolution, err)
	}
	if err := tx.Commit(); err != nil {
		return kiterr.NewStorageError(opRecordResolution, err)
	}
	return nil
}

// ConflictsByPage returns the conflicts recorded for a page, most recent
// first, up to limit.
func (s *AuditStore) ConflictsByPage(ctx context.Context, pageName string, limit int) ([]conflict.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, kiterr.NewStorageError(opConflictsByPage, ErrStoreClosed)
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_type, page_name, component_id, content_key,
			local_version, remote_version, conflicted_at, conflicted_by, metadata, status
		FROM conflicts
		WHERE page_name = ?
		ORDER BY conflicted_at DESC
		LIMIT ?`, pageName, limit)
	if err != nil {
		return nil, kiterr.NewStorageError(opConflictsByPage, err)
	}
	defer rows.Close()

	var out []conflict.Item
	for rows.Next() {
		item, err := scanConflict(rows)
		if err != nil {
			return nil, kiterr.NewStorageError(opConflictsByPage, err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, kiterr.NewStorageError(opConflictsByPage, err)
	}
	return out, nil
}

// Resolutions returns the resolutions recorded for a conflict, oldest
// first.
func (s *AuditStore) Resolutions(ctx context.Context, conflictID string) ([]resolve.Resolution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, kiterr.NewStorageError(opResolutions, ErrStoreClosed)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT strategy, resolved_value, merge_result, resolved_by, resolved_at, notes
		FROM resolutions
		WHERE conflict_id = ?
		ORDER BY seq ASC`, conflictID)
	if err != nil {
		return nil, kiterr.NewStorageError(opResolutions, err)
	}
	defer rows.Close()

	var out []resolve.Resolution
	for rows.Next() {
		var (
			res         resolve.Resolution
			strategy    string
			value       string
			mergeResult sql.NullString
			notes       sql.NullString
		)
		if err := rows.Scan(&strategy, &value, &mergeResult, &res.ResolvedBy, &res.ResolvedAt, &notes); err != nil {
			return nil, kiterr.NewStorageError(opResolutions, err)
		}
		res.Strategy = conflict.Strategy(strategy)
		res.Notes = notes.String
		if err := json.Unmarshal([]byte(value), &res.ResolvedValue); err != nil {
			return nil, kiterr.NewStorageError(opResolutions, fmt.Errorf("decode resolved value: %w", err))
		}
		if mergeResult.Valid {
			var mr resolve.MergeResult
			if err := json.Unmarshal([]byte(mergeResult.String), &mr); err != nil {
				return nil, kiterr.NewStorageError(opResolutions, fmt.Errorf("decode merge result: %w", err))
			}
			res.MergeResult = &mr
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, kiterr.NewStorageError(opResolutions, err)
	}
	return out, nil
}

// Close closes the underlying database. Further calls fail with
// ErrStoreClosed.
func (s *AuditStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func scanConflict(rows *sql.Rows) (conflict.Item, error) {
	var (
		item       conflict.Item
		itemType   string
		status     string
		contentKey sql.NullString
		local      string
		remote     string
		meta       sql.NullString
	)
	if err := rows.Scan(&item.ID, &itemType, &item.PageName, &item.ComponentID, &contentKey,
		&local, &remote, &item.ConflictedAt, &item.ConflictedBy, &meta, &status); err != nil {
		return conflict.Item{}, err
	}
	item.Type = conflict.ItemType(itemType)
	item.Status = conflict.Status(status)
	item.ContentKey = contentKey.String
	if err := json.Unmarshal([]byte(local), &item.LocalVersion); err != nil {
		return conflict.Item{}, fmt.Errorf("decode local version: %w", err)
	}
	if err := json.Unmarshal([]byte(remote), &item.RemoteVersion); err != nil {
		return conflict.Item{}, fmt.Errorf("decode remote version: %w", err)
	}
	if meta.Valid {
		if err := json.Unmarshal([]byte(meta.String), &item.Metadata); err != nil {
			return conflict.Item{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return item, nil
}

func nullable(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
