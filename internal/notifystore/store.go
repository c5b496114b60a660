package notifystore

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

// ErrNotFound is returned when no config exists for the given id.
var ErrNotFound = errors.New("notifystore: config not found")

// Store is the sqlite-backed notification-config repository.
type Store struct {
	db   *sql.DB
	path string
}

// dsn carries the pragmas in the connection string so every pooled
// connection gets them, not only the one that would run a PRAGMA exec.
func dsn(path string) string {
	return "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)"
}

// Open initializes or connects to the config database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// OpenWithRetry dials the database with the same fixed-interval policy
// used for the broker connection.
func OpenWithRetry(ctx context.Context, path string, retries int, interval time.Duration) (*Store, error) {
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		store, err := Open(path)
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
	return nil, fmt.Errorf("notifystore: open failed after %d attempts: %w", retries, lastErr)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create persists a validated config and returns it with the assigned id.
func (s *Store) Create(ctx context.Context, cfg Config) (*Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	parameter, err := cfg.encodeParameter()
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_configs (pipeline_id, condition, type, parameter) VALUES (?, ?, ?, ?)`,
		cfg.PipelineID, cfg.Condition, string(cfg.Type), string(parameter))
	if err != nil {
		return nil, fmt.Errorf("insert config: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	cfg.ID = id
	return &cfg, nil
}

// Update replaces an existing config.
func (s *Store) Update(ctx context.Context, cfg Config) (*Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	parameter, err := cfg.encodeParameter()
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE notification_configs SET pipeline_id = ?, condition = ?, type = ?, parameter = ? WHERE id = ?`,
		cfg.PipelineID, cfg.Condition, string(cfg.Type), string(parameter), cfg.ID)
	if err != nil {
		return nil, fmt.Errorf("update config: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, cfg.ID)
	}
	return &cfg, nil
}

// Delete removes a config by id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notification_configs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete config: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}

// Get returns one config by id.
func (s *Store) Get(ctx context.Context, id int64) (*Config, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pipeline_id, condition, type, parameter FROM notification_configs WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get config: %w", err)
		}
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return scanConfig(rows)
}

// GetByPipelineID returns every config bound to a pipeline. An empty
// result is not an error.
func (s *Store) GetByPipelineID(ctx context.Context, pipelineID int64) ([]Config, error) {
	return s.query(ctx,
		`SELECT id, pipeline_id, condition, type, parameter FROM notification_configs WHERE pipeline_id = ? ORDER BY id`,
		pipelineID)
}

// GetAll returns every stored config.
func (s *Store) GetAll(ctx context.Context) ([]Config, error) {
	return s.query(ctx,
		`SELECT id, pipeline_id, condition, type, parameter FROM notification_configs ORDER BY id`)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Config, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query configs: %w", err)
	}
	defer rows.Close()

	configs := make([]Config, 0)
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate configs: %w", err)
	}
	return configs, nil
}

func scanConfig(rows *sql.Rows) (*Config, error) {
	var cfg Config
	var typ, parameter string
	if err := rows.Scan(&cfg.ID, &cfg.PipelineID, &cfg.Condition, &typ, &parameter); err != nil {
		return nil, fmt.Errorf("scan config row: %w", err)
	}
	cfg.Type = Type(typ)
	if err := cfg.decodeParameter([]byte(parameter)); err != nil {
		return nil, fmt.Errorf("decode stored parameter: %w", err)
	}
	return &cfg, nil
}
