package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/clipvault/clipvault/internal/config"
	"github.com/clipvault/clipvault/internal/logger"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS clipboard_items (
    id             TEXT PRIMARY KEY,
    created_at     TIMESTAMPTZ NOT NULL,
    kind           TEXT NOT NULL,
    original_text  TEXT NOT NULL DEFAULT '',
    sanitized_text TEXT NOT NULL DEFAULT '',
    image_ref      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS clipboard_items_created_at_idx
    ON clipboard_items (created_at DESC);
`

// PostgresItemStore keeps item records in PostgreSQL
type PostgresItemStore struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewPostgresItemStore connects, verifies the database and ensures the schema
func NewPostgresItemStore(cfg config.PostgresConfig, log *logger.Logger) (*PostgresItemStore, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	store := &PostgresItemStore{db: db, logger: log}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, pgSchema); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	log.Info("Postgres item store initialized",
		zap.String("database_url", maskURL(cfg.DatabaseURL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns))

	return store, nil
}

func (s *PostgresItemStore) Put(ctx context.Context, rec ItemRecord) error {
	query := `
		INSERT INTO clipboard_items (id, created_at, kind, original_text, sanitized_text, image_ref)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			original_text  = EXCLUDED.original_text,
			sanitized_text = EXCLUDED.sanitized_text,
			image_ref      = EXCLUDED.image_ref`

	if _, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.CreatedAt, rec.Kind, rec.OriginalText, rec.SanitizedText, rec.ImageRef,
	); err != nil {
		return fmt.Errorf("failed to store item record: %w", err)
	}
	return nil
}

func (s *PostgresItemStore) Get(ctx context.Context, id string) (ItemRecord, error) {
	var rec ItemRecord
	query := `SELECT id, created_at, kind, original_text, sanitized_text, image_ref
		FROM clipboard_items WHERE id = $1`

	if err := s.db.GetContext(ctx, &rec, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ItemRecord{}, ErrNotFound
		}
		return ItemRecord{}, fmt.Errorf("failed to read item record: %w", err)
	}
	return rec, nil
}

func (s *PostgresItemStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM clipboard_items WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete item record: %w", err)
	}
	return nil
}

func (s *PostgresItemStore) Query(ctx context.Context, spec QuerySpec) ([]ItemRecord, error) {
	records := []ItemRecord{}
	query := `SELECT id, created_at, kind, original_text, sanitized_text, image_ref
		FROM clipboard_items
		ORDER BY created_at DESC
		LIMIT NULLIF($1, 0) OFFSET $2`

	if err := s.db.SelectContext(ctx, &records, query, spec.Limit, spec.Offset); err != nil {
		return nil, fmt.Errorf("failed to query item records: %w", err)
	}
	return records, nil
}

// Compact reclaims dead rows after bulk trims
func (s *PostgresItemStore) Compact(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM clipboard_items`); err != nil {
		return fmt.Errorf("failed to vacuum: %w", err)
	}
	s.logger.Info("Store compacted")
	return nil
}

func (s *PostgresItemStore) Close() error {
	return s.db.Close()
}
