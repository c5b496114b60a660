package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version of the registry tables.
// Bucket tables are versionless; they only ever gain rows.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was written by an incompatible version.
var ErrSchemaMismatch = errors.New("storage: schema version mismatch")

// Store persists pipeline buckets in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// dsn carries the pragmas in the connection string so every pooled
// connection gets them. A pragma applied with db.Exec only reaches the
// one connection that happens to run it; writers on the other pool
// connections would then fail with SQLITE_BUSY instead of waiting.
func dsn(path string) string {
	return "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)"
}

// Open initializes or connects to the content database.
func Open(path string, maxOpenConns int) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// OpenWithRetry dials the database with a fixed-interval retry budget,
// matching the broker connection policy. Exhausting the budget is fatal
// to service startup.
func OpenWithRetry(ctx context.Context, path string, maxOpenConns, retries int, interval time.Duration) (*Store, error) {
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		store, err := Open(path, maxOpenConns)
		if err == nil {
			return store, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
	return nil, fmt.Errorf("storage: open failed after %d attempts: %w", retries, lastErr)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// EnsureBucket provisions the bucket for a pipeline id. It is safe under
// concurrent creators: every caller observes success whether or not it
// was the one that created the table.
func (s *Store) EnsureBucket(ctx context.Context, pipelineID int64, pipelineName string) error {
	table := BucketName(pipelineID)
	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
        id         INTEGER PRIMARY KEY AUTOINCREMENT,
        event_id   TEXT NOT NULL DEFAULT '',
        data       TEXT NOT NULL,
        license    TEXT NOT NULL DEFAULT '',
        origin     TEXT NOT NULL DEFAULT '',
        timestamp  TEXT NOT NULL
    )`, table)
	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create bucket table %q: %w", table, err)
	}

	createIndex := fmt.Sprintf(
		`CREATE UNIQUE INDEX IF NOT EXISTS %q ON %q (event_id) WHERE event_id != ''`,
		table+"_event_id", table)
	if _, err := s.db.ExecContext(ctx, createIndex); err != nil {
		return fmt.Errorf("create bucket index for %q: %w", table, err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO buckets (pipeline_id, pipeline_name, created_at)
         VALUES (?, ?, ?)
         ON CONFLICT (pipeline_id) DO UPDATE SET pipeline_name = excluded.pipeline_name
         WHERE excluded.pipeline_name != ''`,
		pipelineID, pipelineName, now)
	if err != nil {
		return fmt.Errorf("register bucket %d: %w", pipelineID, err)
	}
	return nil
}

// MarkBucketDeleted records a pipeline deletion without dropping data.
// Buckets are retained for audit; operators clean them up explicitly.
func (s *Store) MarkBucketDeleted(ctx context.Context, pipelineID int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`UPDATE buckets SET deleted_at = ? WHERE pipeline_id = ? AND deleted_at IS NULL`,
		now, pipelineID)
	if err != nil {
		return fmt.Errorf("mark bucket %d deleted: %w", pipelineID, err)
	}
	return nil
}

// BucketExists checks structurally whether the bucket table is present.
func (s *Store) BucketExists(ctx context.Context, pipelineID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name = ?",
		BucketName(pipelineID),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check bucket %d: %w", pipelineID, err)
	}
	return count > 0, nil
}

// Append persists one immutable content row and returns the assigned id.
// The bucket is provisioned first if needed. When the row carries an
// event id that was already appended to this bucket, the previous row's
// id is returned and no new row is written, so redelivered events are
// no-ops on the storage side.
func (s *Store) Append(ctx context.Context, content Content) (int64, error) {
	if err := s.EnsureBucket(ctx, content.PipelineID, ""); err != nil {
		return 0, err
	}

	table := BucketName(content.PipelineID)
	timestamp := content.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	data := string(content.Data)
	if data == "" {
		data = "null"
	}

	insert := fmt.Sprintf(
		`INSERT INTO %q (event_id, data, license, origin, timestamp) VALUES (?, ?, ?, ?, ?)
         ON CONFLICT (event_id) WHERE event_id != '' DO NOTHING`, table)
	res, err := s.db.ExecContext(ctx, insert,
		content.EventID, data, content.License, content.Origin,
		timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("append to bucket %d: %w", content.PipelineID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("append rows affected: %w", err)
	}
	if affected == 0 {
		if content.EventID == "" {
			return 0, fmt.Errorf("append to bucket %d: no row written", content.PipelineID)
		}
		// Redelivery of an already-persisted event.
		var existing int64
		query := fmt.Sprintf(`SELECT id FROM %q WHERE event_id = ?`, table)
		if err := s.db.QueryRowContext(ctx, query, content.EventID).Scan(&existing); err != nil {
			return 0, fmt.Errorf("lookup deduplicated row: %w", err)
		}
		return existing, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// GetBucketContent returns all rows of a bucket in insertion order.
// A missing bucket yields ErrNoSuchBucket, distinct from an empty result.
func (s *Store) GetBucketContent(ctx context.Context, pipelineID int64) ([]Content, error) {
	exists, err := s.BucketExists(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: pipeline %d", ErrNoSuchBucket, pipelineID)
	}

	query := fmt.Sprintf(
		`SELECT id, event_id, data, license, origin, timestamp FROM %q ORDER BY id`,
		BucketName(pipelineID))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read bucket %d: %w", pipelineID, err)
	}
	defer rows.Close()

	contents := make([]Content, 0)
	for rows.Next() {
		content, err := scanContent(rows, pipelineID)
		if err != nil {
			return nil, err
		}
		contents = append(contents, content)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bucket %d: %w", pipelineID, err)
	}
	return contents, nil
}

// GetContent returns one row by id.
func (s *Store) GetContent(ctx context.Context, pipelineID, contentID int64) (Content, error) {
	exists, err := s.BucketExists(ctx, pipelineID)
	if err != nil {
		return Content{}, err
	}
	if !exists {
		return Content{}, fmt.Errorf("%w: pipeline %d", ErrNoSuchBucket, pipelineID)
	}

	query := fmt.Sprintf(
		`SELECT id, event_id, data, license, origin, timestamp FROM %q WHERE id = ?`,
		BucketName(pipelineID))
	rows, err := s.db.QueryContext(ctx, query, contentID)
	if err != nil {
		return Content{}, fmt.Errorf("read bucket %d: %w", pipelineID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Content{}, fmt.Errorf("read bucket %d: %w", pipelineID, err)
		}
		return Content{}, fmt.Errorf("%w: bucket %d id %d", ErrContentNotFound, pipelineID, contentID)
	}
	return scanContent(rows, pipelineID)
}

// ListBuckets returns the registry entries, live and deleted.
func (s *Store) ListBuckets(ctx context.Context) ([]Bucket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pipeline_id, pipeline_name, created_at, deleted_at FROM buckets ORDER BY pipeline_id`)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	defer rows.Close()

	buckets := make([]Bucket, 0)
	for rows.Next() {
		var bucket Bucket
		var createdAt string
		var deletedAt sql.NullString
		if err := rows.Scan(&bucket.PipelineID, &bucket.PipelineName, &createdAt, &deletedAt); err != nil {
			return nil, fmt.Errorf("scan bucket row: %w", err)
		}
		bucket.CreatedAt = parseTimestamp(createdAt)
		if deletedAt.Valid {
			deleted := parseTimestamp(deletedAt.String)
			bucket.DeletedAt = &deleted
		}
		buckets = append(buckets, bucket)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buckets: %w", err)
	}
	return buckets, nil
}

func scanContent(rows *sql.Rows, pipelineID int64) (Content, error) {
	var content Content
	var data, timestamp string
	if err := rows.Scan(&content.ID, &content.EventID, &data, &content.License, &content.Origin, &timestamp); err != nil {
		return Content{}, fmt.Errorf("scan content row: %w", err)
	}
	content.PipelineID = pipelineID
	content.Data = []byte(data)
	content.Timestamp = parseTimestamp(timestamp)
	return content, nil
}

func parseTimestamp(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
