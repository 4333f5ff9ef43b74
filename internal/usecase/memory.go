package usecase

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"kotori-ai/internal/domain"
)

const (
	biosFile     = "bios.json"
	memoriesFile = "memories.json"
)

// MemoryStore persists user bios and global memories as JSON files under the
// data directory. Bios are per-user free text; global memories are an ordered
// key/value list shared by every conversation. Every mutation is flushed to
// disk before returning.
type MemoryStore struct {
	mu       sync.Mutex
	dataDir  string
	bios     map[string]string
	memories []domain.MemoryEntry

	now func() time.Time // test hook
}

var _ domain.MemoryBank = (*MemoryStore)(nil)

// NewMemoryStore loads existing state from dataDir, creating it if needed.
func NewMemoryStore(dataDir string) (*MemoryStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &MemoryStore{
		dataDir: dataDir,
		bios:    make(map[string]string),
		now:     time.Now,
	}
	if err := loadJSON(filepath.Join(dataDir, biosFile), &s.bios); err != nil {
		return nil, fmt.Errorf("load bios: %w", err)
	}
	if err := loadJSON(filepath.Join(dataDir, memoriesFile), &s.memories); err != nil {
		return nil, fmt.Errorf("load memories: %w", err)
	}
	return s, nil
}

// SetBio stores or replaces the user's bio.
func (s *MemoryStore) SetBio(userID, bio string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bios[userID] = bio
	return s.saveBios()
}

// Bio returns the user's bio, or domain.ErrBioNotFound.
func (s *MemoryStore) Bio(userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bio, ok := s.bios[userID]
	if !ok {
		return "", fmt.Errorf("%w: user %s", domain.ErrBioNotFound, userID)
	}
	return bio, nil
}

// DeleteBio removes the user's bio. Deleting a missing bio is not an error.
func (s *MemoryStore) DeleteBio(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bios, userID)
	return s.saveBios()
}

// SetMemory upserts a global memory. An existing key keeps its position in
// the list; a new key appends.
func (s *MemoryStore) SetMemory(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.memories {
		if s.memories[i].Key == key {
			s.memories[i].Value = value
			s.memories[i].UpdatedAt = s.now()
			return s.saveMemories()
		}
	}
	s.memories = append(s.memories, domain.MemoryEntry{Key: key, Value: value, UpdatedAt: s.now()})
	return s.saveMemories()
}

// DeleteMemory removes a global memory by key.
func (s *MemoryStore) DeleteMemory(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.memories {
		if s.memories[i].Key == key {
			s.memories = append(s.memories[:i], s.memories[i+1:]...)
			return s.saveMemories()
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrMemoryNotFound, key)
}

// Memories returns a snapshot of all global memories in insertion order.
func (s *MemoryStore) Memories() []domain.MemoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.MemoryEntry, len(s.memories))
	copy(out, s.memories)
	return out
}

func (s *MemoryStore) saveBios() error {
	return saveJSON(filepath.Join(s.dataDir, biosFile), s.bios)
}

func (s *MemoryStore) saveMemories() error {
	return saveJSON(filepath.Join(s.dataDir, memoriesFile), s.memories)
}

func loadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// saveJSON writes via a temp file and rename so a crash mid-write never
// leaves a truncated state file.
func saveJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
