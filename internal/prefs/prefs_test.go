package prefs

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vn.io.arda/realtime/internal/domain"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveThenLoad(t *testing.T) {
	s := openMemory(t)

	unread := false
	f := domain.DefaultFilter()
	f.IsRead = &unread
	f.Type = "SNIPPET"
	require.NoError(t, s.Save("filter:notifications", f))

	var got domain.Filter
	require.True(t, s.Load("filter:notifications", &got))
	assert.Equal(t, f, got)

	f.Page = 3
	require.NoError(t, s.Save("filter:notifications", f))
	require.True(t, s.Load("filter:notifications", &got))
	assert.Equal(t, 3, got.Page)
}

func TestMissingKeyKeepsDefaults(t *testing.T) {
	s := openMemory(t)
	got := domain.DefaultFilter()
	assert.False(t, s.Load("filter:messages", &got))
	assert.Equal(t, domain.DefaultFilter(), got)
}

func TestCorruptValueKeepsDefaults(t *testing.T) {
	s := openMemory(t)
	require.NoError(t, s.PutRaw("filter:comments", "{not json"))

	got := domain.DefaultFilter()
	assert.False(t, s.Load("filter:comments", &got))
	assert.Equal(t, domain.DefaultFilter(), got)

	require.NoError(t, s.PutRaw("filter:comments", `{"page":"two"}`))
	assert.False(t, s.Load("filter:comments", &got))
	assert.Equal(t, domain.DefaultFilter(), got, "type mismatch leaves dst untouched")
}

func TestDelete(t *testing.T) {
	s := openMemory(t)
	require.NoError(t, s.Save("k", 1))
	require.NoError(t, s.Delete("k"))
	require.NoError(t, s.Delete("k"))
	var n int
	assert.False(t, s.Load("k", &n))
}

func TestFileBackedStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save("token-tenant", "acme"))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	var tenant string
	require.True(t, s.Load("token-tenant", &tenant))
	assert.Equal(t, "acme", tenant)
}
