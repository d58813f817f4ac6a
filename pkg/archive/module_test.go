package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cfoust/strata/pkg/terrain"

	"github.com/go-redis/redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testArchive(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, "absent.json")
	assert.ErrorIs(t, err, Missing)

	document := &terrain.Document{
		Terrains: []terrain.Portable{
			{ID: 1, Config: terrain.Config{Name: "Water", Color: "#0000ff"}},
		},
		Meta: terrain.Provenance{OriginWorld: "world"},
	}

	require.NoError(t, Save(ctx, s, "strata-terrains.json", document))
	require.NoError(t, Save(ctx, s, "backup.cbor.gz", document))
	assert.Error(t, Save(ctx, s, "notes.txt", document))

	loaded, err := Load(ctx, s, "backup.cbor.gz")
	require.NoError(t, err)
	assert.Equal(t, "Water", loaded.Terrains[0].Name)
	assert.Equal(t, "world", loaded.Meta.OriginWorld)

	names, err := s.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"strata-terrains.json", "backup.cbor.gz"}, names)

	_, err = Load(ctx, s, "absent.json")
	assert.ErrorIs(t, err, Missing)
}

func TestFSStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	s := FSStore(dir)

	names, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)

	testArchive(t, s)

	// Unrelated files are not documents
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("x"), 0644))
	names, err = s.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, names, 2)

	assert.Error(t, s.Set(context.Background(), "../escape.json", []byte("{}")))
}

func TestMemoryStore(t *testing.T) {
	testArchive(t, NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	address := os.Getenv("STRATA_TEST_REDIS")
	if address == "" {
		t.Skip("STRATA_TEST_REDIS not set")
	}

	client := redis.NewClient(&redis.Options{Addr: address})
	ctx := context.Background()
	require.NoError(t, client.FlushDB(ctx).Err())

	testArchive(t, NewRedisStore(client, time.Hour))
}
