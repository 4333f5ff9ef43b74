package domain

import "time"

// MemoryEntry is one global fact the bot carries into every prompt. Entries
// keep insertion order so prompts stay stable across restarts.
type MemoryEntry struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MemoryBank stores user bios and the global memory list.
type MemoryBank interface {
	SetBio(userID, bio string) error
	Bio(userID string) (string, error)
	DeleteBio(userID string) error

	SetMemory(key, value string) error
	DeleteMemory(key string) error
	Memories() []MemoryEntry
}
