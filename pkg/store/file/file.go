// Package file stores each conversation as a JSON file named after its key,
// the on-disk counterpart of a browser's localStorage.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nstogner/expertchat/pkg/domain"
	"github.com/nstogner/expertchat/pkg/store"
)

// Store implements ConversationStore with one <key>.json file per persona.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// Verify interface compliance at compile time.
var _ store.ConversationStore = (*Store)(nil)

// New returns a store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(personaID string) (string, error) {
	if personaID == "" || strings.ContainsAny(personaID, `/\`) || personaID == "." || personaID == ".." {
		return "", fmt.Errorf("invalid persona id %q", personaID)
	}
	return filepath.Join(s.dir, store.Key(personaID)+".json"), nil
}

func (s *Store) Load(_ context.Context, personaID string) ([]domain.Message, error) {
	path, err := s.path(personaID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	data, err := os.ReadFile(path)
	s.mu.RUnlock()
	if errors.Is(err, os.ErrNotExist) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var msgs []domain.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return msgs, nil
}

// Save writes the snapshot to a temporary file and renames it into place so
// a crash never leaves a half-written conversation.
func (s *Store) Save(_ context.Context, personaID string, messages []domain.Message) error {
	path, err := s.path(personaID)
	if err != nil {
		return err
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	data, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *Store) Clear(_ context.Context, personaID string) error {
	path, err := s.path(personaID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
