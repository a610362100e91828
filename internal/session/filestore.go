package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"holectl/internal/domain"
)

const maxTokenLen = 512

// FileStore keeps a single session id in a file. The file's mtime is the
// freshness clock; the appliance does not report an expiry we could embed.
//
// Writes go through a temp file and rename, so a concurrent reader sees either
// the old record or the new one. Anything unreadable is reported as absent.
type FileStore struct {
	path      string
	freshness time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

func NewFileStore(path string, freshness time.Duration, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, freshness: freshness, now: time.Now, logger: logger}
}

// Path returns the token file location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(ctx context.Context) (domain.SessionToken, bool) {
	info, err := os.Stat(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("session file unreadable, treating as absent", "path", s.path, "err", err)
		}
		return domain.SessionToken{}, false
	}
	age := s.now().Sub(info.ModTime())
	if age >= s.freshness {
		s.logger.Debug("cached session expired", "age", age.Round(time.Second), "window", s.freshness)
		return domain.SessionToken{}, false
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		s.logger.Debug("session file unreadable, treating as absent", "path", s.path, "err", err)
		return domain.SessionToken{}, false
	}
	value := strings.TrimSpace(string(data))
	if !plausibleToken(value) {
		s.logger.Debug("session file content rejected, treating as absent", "path", s.path, "bytes", len(data))
		return domain.SessionToken{}, false
	}
	return domain.SessionToken{Value: value, AcquiredAt: info.ModTime()}, true
}

func (s *FileStore) Save(ctx context.Context, tok domain.SessionToken) error {
	if !plausibleToken(tok.Value) {
		return fmt.Errorf("refusing to persist malformed session id")
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir session dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.WriteString(tok.Value); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("chmod session file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

func (s *FileStore) Clear(ctx context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// plausibleToken rejects empty, oversized, or torn content: a session id is a
// single printable word.
func plausibleToken(v string) bool {
	if v == "" || len(v) > maxTokenLen {
		return false
	}
	for _, r := range v {
		if r <= ' ' || r == 0x7f || r > '~' {
			return false
		}
	}
	return true
}
