package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"netpong/frame"
)

// Store persists the shared highscore table.
type Store interface {
	// Load returns the stored table. found is false when nothing has been
	// stored yet.
	Load(ctx context.Context) (t frame.HighscoreTable, found bool, err error)
	Save(ctx context.Context, t frame.HighscoreTable) error
}

// MemoryStore keeps the table for the lifetime of the process.
type MemoryStore struct {
	mu    sync.Mutex
	table frame.HighscoreTable
	found bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(context.Context) (frame.HighscoreTable, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table, s.found, nil
}

func (s *MemoryStore) Save(_ context.Context, t frame.HighscoreTable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table, s.found = t, true
	return nil
}

// FileStore keeps the table as JSON in a local file.
type FileStore struct {
	Path string

	mu sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (s *FileStore) Load(context.Context) (frame.HighscoreTable, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return frame.HighscoreTable{}, false, nil
	}
	if err != nil {
		return frame.HighscoreTable{}, false, fmt.Errorf("directory: read %s: %w", s.Path, err)
	}
	var t frame.HighscoreTable
	if err := json.Unmarshal(data, &t); err != nil {
		return frame.HighscoreTable{}, false, fmt.Errorf("directory: decode %s: %w", s.Path, err)
	}
	return t, true, nil
}

// Save writes to a temporary file and renames it over the old one.
func (s *FileStore) Save(_ context.Context, t frame.HighscoreTable) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("directory: encode highscores: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.Path), ".highscores-*")
	if err != nil {
		return fmt.Errorf("directory: save highscores: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("directory: save highscores: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("directory: save highscores: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("directory: save highscores: %w", err)
	}
	return nil
}
