package kvstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetMissingReportsNotFoundNotError(t *testing.T) {
	m := NewMemory()
	v, ok, err := m.Get("energy", "charged_wh")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestMemorySetThenGetRoundTrips(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Set("energy", "charged_wh", []byte{1, 2, 3}))
	v, ok, err := m.Get("energy", "charged_wh")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, v)
}

func TestMemoryNamespacesDoNotCollide(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Set("energy", "k", []byte("a")))
	require.NoError(t, m.Set("config", "k", []byte("b")))
	v, _, _ := m.Get("energy", "k")
	assert.Equal(t, []byte("a"), v)
	v, _, _ = m.Get("config", "k")
	assert.Equal(t, []byte("b"), v)
}

func TestLevelDBRoundTripsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.ldb")

	db, err := OpenLevelDB(path)
	require.NoError(t, err)
	require.NoError(t, db.Set("energy", "discharged_wh", []byte{9, 9}))
	require.NoError(t, db.Commit())
	require.NoError(t, db.Close())

	reopened, err := OpenLevelDB(path)
	require.NoError(t, err)
	defer reopened.Close()
	v, ok, err := reopened.Get("energy", "discharged_wh")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte{9, 9}, v)

	_, ok, err = reopened.Get("energy", "nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)
}
