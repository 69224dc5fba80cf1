package data

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"TrendGate/internal/model"
	pkglog "TrendGate/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// FileSessionStore keeps the record in one JSON file, replaced atomically.
type FileSessionStore struct {
	mu    sync.Mutex
	path  string
	codec sessionCodec
	log   *pkglog.LogHelper
}

// NewFileSessionStore creates a file-backed store at path.
func NewFileSessionStore(path string, codec sessionCodec, logger log.Logger) *FileSessionStore {
	return &FileSessionStore{path: path, codec: codec, log: pkglog.NewLogHelper(logger)}
}

// Load reads the record.
func (s *FileSessionStore) Load(_ context.Context) (*model.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}
	rec, err := s.codec.decode(payload)
	if err != nil {
		return nil, err
	}
	s.log.Storage("Session loaded", "path", s.path, "cookies", len(rec.Cookies))
	return rec, nil
}

// Save writes to a temp file in the same directory and renames it over the
// old record, so readers never see a partial write.
func (s *FileSessionStore) Save(_ context.Context, rec *model.SessionRecord) error {
	payload, err := s.codec.encode(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod session file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	s.log.Storage("Session saved", "path", s.path, "cookies", len(rec.Cookies))
	return nil
}

// Delete removes the record. A missing file is not an error.
func (s *FileSessionStore) Delete(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}
