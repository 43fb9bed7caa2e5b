package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	objectsFile = "objects.json"
	metaFile    = "session.json"
)

// FS is the default backend: one directory per session under
// <root>/sessions, archived sessions moved under <root>/archive. Writes go
// to a temp file in the session directory and are renamed into place, so a
// reader never observes a partial document.
type FS struct {
	root string
}

func NewFS(root string) (*FS, error) {
	for _, dir := range []string{filepath.Join(root, "sessions"), filepath.Join(root, "archive")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return &FS{root: root}, nil
}

func (b *FS) sessionDir(sessionID string) string {
	return filepath.Join(b.root, "sessions", sessionID)
}

func (b *FS) ReadObjects(sessionID string) ([]byte, error) {
	return b.read(sessionID, objectsFile)
}

func (b *FS) WriteObjects(sessionID string, data []byte) error {
	return b.write(sessionID, objectsFile, data)
}

func (b *FS) ReadMeta(sessionID string) ([]byte, error) {
	return b.read(sessionID, metaFile)
}

func (b *FS) WriteMeta(sessionID string, data []byte) error {
	return b.write(sessionID, metaFile, data)
}

func (b *FS) read(sessionID, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(b.sessionDir(sessionID), name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	}
	return data, err
}

func (b *FS) write(sessionID, name string, data []byte) error {
	dir := b.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, name))
}

func (b *FS) List() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(b.root, "sessions"))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

func (b *FS) Archive(sessionID string) error {
	src := b.sessionDir(sessionID)
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
	} else if err != nil {
		return err
	}
	dst := filepath.Join(b.root, "archive", sessionID)
	// A previous archive of the same id is replaced.
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	return os.Rename(src, dst)
}

func (b *FS) Delete(sessionID string) error {
	return os.RemoveAll(b.sessionDir(sessionID))
}

func (b *FS) Close() error { return nil }
