// Package marker persists the fetch marker: the Last-Modified value of the
// last dump that was fully ingested. An empty marker means "never fetched".
package marker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kalambet/tgxsync/internal/storage"
)

// DefaultFileName is the marker file created inside the data directory.
const DefaultFileName = "lastFetch.txt"

// Store reads and writes the marker.
type Store interface {
	Read(ctx context.Context) (string, error)
	Write(ctx context.Context, value string) error
	Reset(ctx context.Context) error
}

var (
	_ Store = (*File)(nil)
	_ Store = (*State)(nil)
)

// File keeps the marker in a plain text file.
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the marker file location.
func (f *File) Path() string {
	return f.path
}

func (f *File) Read(_ context.Context) (string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading marker file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Write replaces the marker atomically via a temp file and rename.
func (f *File) Write(_ context.Context, value string) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating marker directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".lastFetch-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp marker file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		return fmt.Errorf("writing marker file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing marker file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing marker file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replacing marker file: %w", err)
	}
	return nil
}

func (f *File) Reset(_ context.Context) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing marker file: %w", err)
	}
	return nil
}

// StateStore is the key/value part of storage.Backend.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
	DeleteState(ctx context.Context, key string) error
}

// State keeps the marker in the store's sync_state table, so it lives and
// dies with the data it describes.
type State struct {
	store StateStore
}

func NewState(store StateStore) *State {
	return &State{store: store}
}

func (s *State) Read(ctx context.Context) (string, error) {
	v, err := s.store.GetState(ctx, storage.StateKeyFetchMarker)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading marker state: %w", err)
	}
	return v, nil
}

func (s *State) Write(ctx context.Context, value string) error {
	if err := s.store.SetState(ctx, storage.StateKeyFetchMarker, value); err != nil {
		return fmt.Errorf("writing marker state: %w", err)
	}
	return nil
}

func (s *State) Reset(ctx context.Context) error {
	if err := s.store.DeleteState(ctx, storage.StateKeyFetchMarker); err != nil {
		return fmt.Errorf("clearing marker state: %w", err)
	}
	return nil
}
