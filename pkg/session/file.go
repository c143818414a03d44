package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mentorhub/pkg/domain"
)

// FilePersister stores each snapshot as <dir>/<key>.json.
type FilePersister struct {
	dir string
}

// NewFilePersister creates the state directory if missing.
func NewFilePersister(dir string) (*FilePersister, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("session state dir is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FilePersister{dir: dir}, nil
}

func (f *FilePersister) Load(_ context.Context, key string) (domain.Session, bool, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("read snapshot: %w", err)
	}
	var snap domain.Session
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.Session{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}

// Save writes through a temp file so a crash never leaves a torn snapshot.
func (f *FilePersister) Save(_ context.Context, key string, snap domain.Session) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	tmp, err := os.CreateTemp(f.dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path(key)); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (f *FilePersister) Delete(_ context.Context, key string) error {
	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (f *FilePersister) path(key string) string {
	name := strings.NewReplacer("/", "_", string(os.PathSeparator), "_", ":", "_").Replace(filepath.Base(key))
	if name == "" || name == "." {
		name = StorageKey
	}
	return filepath.Join(f.dir, name+".json")
}
