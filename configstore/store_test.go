package configstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, ok := s.Get("deploy-1/api/DATABASE_DB_URL")
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, "deploy-1/api/DATABASE_DB_URL", "postgres://db:5432/app"))
	require.NoError(t, s.Put(ctx, "deploy-1/api/DATABASE_DB_PORT", "5432"))

	v, ok := s.Get("deploy-1/api/DATABASE_DB_URL")
	require.True(t, ok)
	assert.Equal(t, "postgres://db:5432/app", v)
	assert.Equal(t, 2, s.Len())

	// Overwrites replace in place.
	require.NoError(t, s.Put(ctx, "deploy-1/api/DATABASE_DB_URL", "postgres://db-2:5432/app"))
	v, _ = s.Get("deploy-1/api/DATABASE_DB_URL")
	assert.Equal(t, "postgres://db-2:5432/app", v)
	assert.Equal(t, 2, s.Len())
}
