package usecase

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kotori-ai/internal/domain"
)

func newTestMemory(t *testing.T) (*MemoryStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewMemoryStore(dir)
	require.NoError(t, err)
	return s, dir
}

func TestBioRoundTrip(t *testing.T) {
	s, _ := newTestMemory(t)

	_, err := s.Bio("u1")
	assert.ErrorIs(t, err, domain.ErrBioNotFound)

	require.NoError(t, s.SetBio("u1", "likes trains"))
	bio, err := s.Bio("u1")
	require.NoError(t, err)
	assert.Equal(t, "likes trains", bio)

	require.NoError(t, s.DeleteBio("u1"))
	_, err = s.Bio("u1")
	assert.ErrorIs(t, err, domain.ErrBioNotFound)
}

func TestDeleteMissingBioIsNoop(t *testing.T) {
	s, _ := newTestMemory(t)
	assert.NoError(t, s.DeleteBio("nobody"))
}

func TestMemoriesKeepInsertionOrder(t *testing.T) {
	s, _ := newTestMemory(t)

	require.NoError(t, s.SetMemory("b", "second"))
	require.NoError(t, s.SetMemory("a", "first"))
	require.NoError(t, s.SetMemory("b", "updated")) // upsert keeps position

	mems := s.Memories()
	require.Len(t, mems, 2)
	assert.Equal(t, "b", mems[0].Key)
	assert.Equal(t, "updated", mems[0].Value)
	assert.Equal(t, "a", mems[1].Key)
}

func TestDeleteMemory(t *testing.T) {
	s, _ := newTestMemory(t)

	require.NoError(t, s.SetMemory("k", "v"))
	require.NoError(t, s.DeleteMemory("k"))
	assert.Empty(t, s.Memories())

	assert.ErrorIs(t, s.DeleteMemory("k"), domain.ErrMemoryNotFound)
}

func TestStateSurvivesReload(t *testing.T) {
	s, dir := newTestMemory(t)

	require.NoError(t, s.SetBio("u1", "likes trains"))
	require.NoError(t, s.SetMemory("color", "the bot's favorite color is teal"))

	reloaded, err := NewMemoryStore(dir)
	require.NoError(t, err)

	bio, err := reloaded.Bio("u1")
	require.NoError(t, err)
	assert.Equal(t, "likes trains", bio)

	mems := reloaded.Memories()
	require.Len(t, mems, 1)
	assert.Equal(t, "color", mems[0].Key)
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	s, dir := newTestMemory(t)
	require.NoError(t, s.SetMemory("k", "v"))

	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestCorruptStateFileFailsLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, memoriesFile), []byte("{not json"), 0o600))

	_, err := NewMemoryStore(dir)
	assert.Error(t, err)
}
