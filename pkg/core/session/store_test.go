package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	valid := []string{
		"3f2b8a4e-1c2d-4e5f-8a9b-0c1d2e3f4a5b",
		"3F2B8A4E-1C2D-4E5F-AA9B-0C1D2E3F4A5B",
		uuid.NewString(),
	}
	for _, id := range valid {
		assert.True(t, Validate(id), id)
	}

	invalid := []string{
		"",
		"not-a-session",
		"../../etc",
		"../../etc/passwd",
		"..\\..\\windows",
		"3f2b8a4e-1c2d-4e5f-8a9b-0c1d2e3f4a5",    // short
		"3f2b8a4e-1c2d-4e5f-8a9b-0c1d2e3f4a5b0",  // long
		"3f2b8a4e1c2d-4e5f-8a9b-0c1d2e3f4a5b0",   // separator count
		"3f2b8a4e-1c2d-3e5f-8a9b-0c1d2e3f4a5b",   // version nibble
		"3f2b8a4e-1c2d-4e5f-7a9b-0c1d2e3f4a5b",   // variant nibble
		"3f2b8a4e-1c2d-4e5f-8a9b-0c1d2e3f4a5/",   // slash
		"3f2b8a4e-1c2d-4e5f-8a9b-0c1d2e3f4a..",   // dots
		"3f2b8a4e-1c2d-4e5f-8a9b-0c1d2e3f4a5b\n", // trailing newline
		" 3f2b8a4e-1c2d-4e5f-8a9b-0c1d2e3f4a5b",
	}
	for _, id := range invalid {
		assert.False(t, Validate(id), "%q", id)
	}
}

func TestDataPath_CreatesSessionDir(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	id := uuid.NewString()
	path, err := store.DataPath(id, "gmail_token")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(store.Root(), id, "gmail_token.json"), path)
	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.True(t, store.Exists(id))
}

func TestDataPath_IsDeterministicAndCaseFolded(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	id := "3f2b8a4e-1c2d-4e5f-8a9b-0c1d2e3f4a5b"
	a, err := store.DataPath(id, "calendar_token")
	require.NoError(t, err)
	b, err := store.DataPath(strings.ToUpper(id), "calendar_token")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDataPath_RejectsMalformedWithoutTouchingDisk(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "sessions")
	store, err := NewStore(root)
	require.NoError(t, err)

	for _, id := range []string{"../../etc", "..", "a/b", "", "ffffffff-ffff-4fff-bfff-fffffffffff"} {
		_, err := store.DataPath(id, "gmail_token")
		assert.ErrorIs(t, err, ErrInvalidSession, "%q", id)
	}

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing may be created for rejected ids")
}

func TestDataPath_RejectsEscapingResource(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	id := uuid.NewString()
	for _, res := range []string{"../other", "a/b", "", "..", ".hidden", "UPPER"} {
		_, err := store.DataPath(id, res)
		assert.ErrorIs(t, err, ErrInvalidResource, "%q", res)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	s1, s2 := uuid.NewString(), uuid.NewString()
	p1, err := store.DataPath(s1, "gmail_token")
	require.NoError(t, err)
	p2, err := store.DataPath(s2, "gmail_token")
	require.NoError(t, err)

	assert.NotEqual(t, p1, p2)
	assert.NotEqual(t, filepath.Dir(p1), filepath.Dir(p2))
}

func TestRemove_Idempotent(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	id := uuid.NewString()
	path, err := store.DataPath(id, "gmail_token")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))

	require.NoError(t, store.Remove(id))
	require.NoError(t, store.Remove(id))
	assert.False(t, store.Exists(id))

	assert.ErrorIs(t, store.Remove("../../etc"), ErrInvalidSession)
}

func TestNewStore_RequiresRoot(t *testing.T) {
	_, err := NewStore("  ")
	require.Error(t, err)
}
