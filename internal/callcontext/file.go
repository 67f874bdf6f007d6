package callcontext

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	stagedFile   = "staged.json"
	batchFile    = "batch.json"
	attachedFile = "attached.json"
)

// FileBackend mirrors the store to JSON files in a directory, one file per
// tier, replaced wholesale on every write.
type FileBackend struct {
	dir string
}

// NewFileBackend creates the directory if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("callcontext: create %s: %w", dir, err)
	}
	return &FileBackend{dir: dir}, nil
}

// WriteStaged persists the staged slot. A zero context removes the file.
func (b *FileBackend) WriteStaged(ctx Context) error {
	path := filepath.Join(b.dir, stagedFile)
	if ctx.IsZero() {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	return b.writeJSON(path, ctx)
}

// WriteBatch persists the batch record.
func (b *FileBackend) WriteBatch(batch map[string]Context) error {
	return b.writeJSON(filepath.Join(b.dir, batchFile), batch)
}

// WriteAttached persists the call-SID-keyed tier.
func (b *FileBackend) WriteAttached(attached map[string]Context) error {
	return b.writeJSON(filepath.Join(b.dir, attachedFile), attached)
}

// Load restores all tiers. Missing files yield empty state, not errors.
func (b *FileBackend) Load() (*Context, map[string]Context, map[string]Context, error) {
	var staged *Context
	var c Context
	ok, err := b.readJSON(filepath.Join(b.dir, stagedFile), &c)
	if err != nil {
		return nil, nil, nil, err
	}
	if ok && !c.IsZero() {
		staged = &c
	}

	batch := map[string]Context{}
	if _, err := b.readJSON(filepath.Join(b.dir, batchFile), &batch); err != nil {
		return nil, nil, nil, err
	}

	attached := map[string]Context{}
	if _, err := b.readJSON(filepath.Join(b.dir, attachedFile), &attached); err != nil {
		return nil, nil, nil, err
	}

	return staged, batch, attached, nil
}

// writeJSON replaces the file atomically via a temp file rename.
func (b *FileBackend) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (b *FileBackend) readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("callcontext: parse %s: %w", filepath.Base(path), err)
	}
	return true, nil
}
