package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clipvault/clipvault/internal/config"
	"github.com/clipvault/clipvault/internal/logger"
)

// ErrNotFound is returned when an item or blob does not exist
var ErrNotFound = errors.New("not found")

// ItemRecord is the persisted form of a clipboard item. Image bytes live in
// the blob store; the record only keeps the durable reference.
type ItemRecord struct {
	ID            string    `json:"id" db:"id"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	Kind          string    `json:"kind" db:"kind"`
	OriginalText  string    `json:"originalText" db:"original_text"`
	SanitizedText string    `json:"sanitizedText" db:"sanitized_text"`
	ImageRef      string    `json:"imageRef" db:"image_ref"`
}

// QuerySpec bounds an item query. Results are always newest-first.
type QuerySpec struct {
	Limit  int
	Offset int
}

// ItemStore is the durable map backing the clipboard history. The core
// talks to it through this interface only; no query language leaks out.
type ItemStore interface {
	Put(ctx context.Context, rec ItemRecord) error
	Get(ctx context.Context, id string) (ItemRecord, error)
	Delete(ctx context.Context, id string) error
	Query(ctx context.Context, spec QuerySpec) ([]ItemRecord, error)
	// Compact reclaims space after bulk deletes; best effort
	Compact(ctx context.Context) error
	Close() error
}

// BlobStore holds evicted image bytes. The ref returned by Save is the
// driver's storage key, derived from the item id, so Load and Delete stay
// well-defined even while a save for the same id is still in flight.
type BlobStore interface {
	Save(ctx context.Context, id string, data []byte) (string, error)
	Load(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
}

// Open builds the configured item and blob stores. The postgres driver
// keeps records in the database and image blobs on local disk.
func Open(cfg config.StorageConfig, log *logger.Logger) (ItemStore, BlobStore, error) {
	switch cfg.Driver {
	case "file":
		items, err := NewFileItemStore(cfg.DataDir, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open file item store: %w", err)
		}
		blobs, err := NewFileBlobStore(cfg.DataDir, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open file blob store: %w", err)
		}
		return items, blobs, nil

	case "redis":
		rs, err := NewRedisStore(cfg.Redis, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open redis store: %w", err)
		}
		return rs, rs.Blobs(), nil

	case "postgres":
		items, err := NewPostgresItemStore(cfg.Postgres, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		blobs, err := NewFileBlobStore(cfg.DataDir, log)
		if err != nil {
			items.Close()
			return nil, nil, fmt.Errorf("failed to open file blob store: %w", err)
		}
		return items, blobs, nil
	}

	return nil, nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
}

// maskURL masks the password portion of connection URLs for logging
func maskURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
