package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := OpenBoltStore(filepath.Join(t.TempDir(), `registry.db`))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })

		return s
	})
}

func TestBoltStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), `registry.db`)

	s, err := OpenBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateSchema(ctx, testSchema(`orders`)))
	v1 := testVersion(`orders`, 1)
	require.NoError(t, s.AppendVersion(ctx, v1))
	require.NoError(t, s.Close())

	s, err = OpenBoltStore(path)
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.GetSchema(ctx, `orders`)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.LatestVersion)

	got, err := s.GetVersionByID(ctx, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.Definition, got.Definition)
}
