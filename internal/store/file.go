package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/clipvault/clipvault/internal/logger"
)

// FileItemStore keeps one JSON record per item under <dir>/items
type FileItemStore struct {
	dir    string
	logger *logger.Logger
}

// NewFileItemStore creates the data directory layout if needed
func NewFileItemStore(dataDir string, log *logger.Logger) (*FileItemStore, error) {
	dir := filepath.Join(dataDir, "items")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create item directory: %w", err)
	}

	log.Info("File item store initialized", zap.String("dir", dir))
	return &FileItemStore{dir: dir, logger: log}, nil
}

func (s *FileItemStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Put writes the record atomically (temp file plus rename)
func (s *FileItemStore) Put(ctx context.Context, rec ItemRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal item record: %w", err)
	}

	tmp := s.path(rec.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write item record: %w", err)
	}
	if err := os.Rename(tmp, s.path(rec.ID)); err != nil {
		return fmt.Errorf("failed to commit item record: %w", err)
	}
	return nil
}

func (s *FileItemStore) Get(ctx context.Context, id string) (ItemRecord, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return ItemRecord{}, ErrNotFound
		}
		return ItemRecord{}, fmt.Errorf("failed to read item record: %w", err)
	}

	var rec ItemRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return ItemRecord{}, fmt.Errorf("failed to unmarshal item record: %w", err)
	}
	return rec, nil
}

func (s *FileItemStore) Delete(ctx context.Context, id string) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete item record: %w", err)
	}
	return nil
}

// Query loads every record and sorts newest-first. Histories are bounded to
// a few hundred items, so a full scan stays cheap.
func (s *FileItemStore) Query(ctx context.Context, spec QuerySpec) ([]ItemRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list item records: %w", err)
	}

	records := make([]ItemRecord, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		var rec ItemRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.Warn("Skipping corrupt item record", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	if spec.Offset > 0 {
		if spec.Offset >= len(records) {
			return []ItemRecord{}, nil
		}
		records = records[spec.Offset:]
	}
	if spec.Limit > 0 && spec.Limit < len(records) {
		records = records[:spec.Limit]
	}
	return records, nil
}

// Compact sweeps leftover temp files and blobs whose item record is gone
func (s *FileItemStore) Compact(ctx context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to list item records: %w", err)
	}

	live := make(map[string]bool, len(entries))
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".tmp") {
			os.Remove(filepath.Join(s.dir, name))
			removed++
			continue
		}
		live[strings.TrimSuffix(name, ".json")] = true
	}

	blobDir := filepath.Join(filepath.Dir(s.dir), "blobs")
	blobs, err := os.ReadDir(blobDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to list blobs: %w", err)
	}
	for _, blob := range blobs {
		id := strings.TrimSuffix(blob.Name(), ".bin")
		if !live[id] {
			os.Remove(filepath.Join(blobDir, blob.Name()))
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info("Store compacted", zap.Int("removed_files", removed))
	}
	return nil
}

func (s *FileItemStore) Close() error { return nil }

// FileBlobStore keeps one obfuscated blob per image under <dir>/blobs.
// The XOR keystream hides content from casual inspection of the data
// directory; it is not meant to resist a determined attacker.
type FileBlobStore struct {
	dir    string
	key    []byte
	logger *logger.Logger
}

// NewFileBlobStore creates the blob directory and loads or generates the
// obfuscation key
func NewFileBlobStore(dataDir string, log *logger.Logger) (*FileBlobStore, error) {
	dir := filepath.Join(dataDir, "blobs")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	keyPath := filepath.Join(dataDir, "blob.key")
	key, err := os.ReadFile(keyPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read blob key: %w", err)
		}
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate blob key: %w", err)
		}
		if err := os.WriteFile(keyPath, key, 0o600); err != nil {
			return nil, fmt.Errorf("failed to write blob key: %w", err)
		}
	}

	log.Info("File blob store initialized", zap.String("dir", dir))
	return &FileBlobStore{dir: dir, key: key, logger: log}, nil
}

func (s *FileBlobStore) path(id string) string {
	return filepath.Join(s.dir, id+".bin")
}

func (s *FileBlobStore) Save(ctx context.Context, id string, data []byte) (string, error) {
	masked := s.mask(id, data)

	tmp := s.path(id) + ".tmp"
	if err := os.WriteFile(tmp, masked, 0o600); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp, s.path(id)); err != nil {
		return "", fmt.Errorf("failed to commit blob: %w", err)
	}
	return s.path(id), nil
}

func (s *FileBlobStore) Load(ctx context.Context, id string) ([]byte, error) {
	masked, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return s.mask(id, masked), nil
}

func (s *FileBlobStore) Delete(ctx context.Context, id string) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// mask XORs data with a keystream derived from the store key and the item
// id. XOR is symmetric, so the same call obfuscates and restores.
func (s *FileBlobStore) mask(id string, data []byte) []byte {
	out := make([]byte, len(data))
	var counter [8]byte

	block := 0
	for off := 0; off < len(data); off += sha256.Size {
		binary.BigEndian.PutUint64(counter[:], uint64(block))
		h := sha256.New()
		h.Write(s.key)
		h.Write([]byte(id))
		h.Write(counter[:])
		stream := h.Sum(nil)

		end := off + sha256.Size
		if end > len(data) {
			end = len(data)
		}
		for i := off; i < end; i++ {
			out[i] = data[i] ^ stream[i-off]
		}
		block++
	}
	return out
}
