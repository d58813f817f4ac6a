package terrain

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cfoust/strata/pkg/idmap"
	"github.com/cfoust/strata/pkg/store"

	"github.com/repeale/fp-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMeta = Provenance{
	OriginWorld:   "world",
	OriginSystem:  "system",
	CoreVersion:   "11",
	SystemVersion: "2.0.0",
	ModuleVersion: "1.4.0",
}

func named(name string) Config {
	return Config{
		Name:        name,
		Icon:        DEFAULT_ICON,
		Color:       DEFAULT_COLOR,
		Anchor:      AnchorFromTerrain,
		RangeAbove:  10,
		UserVisible: true,
	}
}

func populate(t *testing.T, c *Collection, names ...string) {
	for _, name := range names {
		_, _, err := c.Create(context.Background(), named(name))
		require.NoError(t, err)
	}
}

func nameOf(t *testing.T, c *Collection, id idmap.ID) string {
	terrain := c.Get(id)
	require.True(t, opt.IsSome(terrain), "terrain %d missing", id)
	name, err := terrain.Value.Name(context.Background())
	require.NoError(t, err)
	return name
}

func TestCreateAndDelete(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	c := NewCollection(s, PARENT, testMeta)

	populate(t, c, "a", "b", "c")
	assert.Equal(t, []idmap.ID{1, 2, 3}, c.IDs())

	entries := c.All()
	require.Len(t, entries, 3)
	assert.Equal(t, idmap.ID(3), entries[2].ID)

	id, err := c.Get(2).Value.ID(ctx)
	require.NoError(t, err)
	assert.Equal(t, idmap.ID(2), id)

	require.NoError(t, c.Delete(ctx, 2))
	assert.Equal(t, []idmap.ID{1, 3}, c.IDs())
	assert.ErrorIs(t, c.Delete(ctx, 2), ErrUnknownTerrain)

	id, _, err = c.Create(ctx, named("d"))
	require.NoError(t, err)
	assert.Equal(t, idmap.ID(2), id)

	id, _, err = c.Create(ctx, named("e"))
	require.NoError(t, err)
	assert.Equal(t, idmap.ID(4), id)

	refs, err := s.List(ctx, PARENT)
	require.NoError(t, err)
	assert.Len(t, refs, 4)

	_, _, err = c.Create(ctx, Config{Anchor: AnchorMode(5)})
	assert.Error(t, err)
	assert.Equal(t, 4, c.Len())
}

func TestCreateWithID(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	c := NewCollection(s, PARENT, testMeta)
	populate(t, c, "a")

	_, err := c.CreateWithID(ctx, 1, named("b"), false)
	assert.ErrorIs(t, err, idmap.ErrOccupied)
	assert.Equal(t, "a", nameOf(t, c, 1))

	_, err = c.CreateWithID(ctx, 0, named("b"), false)
	assert.ErrorIs(t, err, idmap.ErrInvalidID)

	_, err = c.CreateWithID(ctx, 1, named("b"), true)
	require.NoError(t, err)
	assert.Equal(t, "b", nameOf(t, c, 1))

	// The overridden record is gone
	refs, err := s.List(ctx, PARENT)
	require.NoError(t, err)
	assert.Len(t, refs, 1)

	_, err = c.CreateWithID(ctx, 5, named("e"), false)
	require.NoError(t, err)

	id, _, err := c.Create(ctx, named("next"))
	require.NoError(t, err)
	assert.Equal(t, idmap.ID(2), id)
	assert.Equal(t, []idmap.ID{1, 2, 5}, c.IDs())
}

func TestDeleteBelowSparseTail(t *testing.T) {
	ctx := context.Background()
	c := NewCollection(store.NewMemoryStore(), PARENT, testMeta)
	populate(t, c, "a", "b", "c")
	_, err := c.CreateWithID(ctx, 5, named("e"), false)
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, 2))
	id, _, err := c.Create(ctx, named("again"))
	require.NoError(t, err)
	assert.Equal(t, idmap.ID(2), id)

	c = NewCollection(store.NewMemoryStore(), PARENT, testMeta)
	populate(t, c, "a", "b")
	_, err = c.CreateWithID(ctx, 4, named("d"), false)
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, 1))
	ids, err := c.ImportAdditive(ctx, &Document{Terrains: []Portable{{Config: named("x")}}})
	require.NoError(t, err)
	assert.Equal(t, []idmap.ID{1}, ids)
	assert.Equal(t, "x", nameOf(t, c, 1))
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	refs, err := s.CreateMany(ctx, PARENT, []store.Snapshot{
		{Kind: KIND, Attributes: map[string]any{KEY_ID: 3, KEY_NAME: "three"}},
		{Kind: KIND, Attributes: map[string]any{KEY_ID: 3, KEY_NAME: "collides"}},
		{Kind: KIND, Attributes: map[string]any{KEY_NAME: "none"}},
		{Kind: KIND, Attributes: map[string]any{KEY_ID: 1, KEY_NAME: "one"}},
	})
	require.NoError(t, err)

	c := NewCollection(s, PARENT, testMeta)
	require.NoError(t, c.Load(ctx))
	assert.Equal(t, []idmap.ID{1, 2, 3, 4}, c.IDs())

	assert.Equal(t, "one", nameOf(t, c, 1))
	assert.Equal(t, "collides", nameOf(t, c, 2))
	assert.Equal(t, "three", nameOf(t, c, 3))
	assert.Equal(t, "none", nameOf(t, c, 4))

	// Reassigned identifiers are written back
	value, err := s.Get(ctx, refs[1], KEY_ID)
	require.NoError(t, err)
	assert.Equal(t, float64(2), value)

	// Loading again is stable
	require.NoError(t, c.Load(ctx))
	assert.Equal(t, "collides", nameOf(t, c, 2))
}

func TestExportAndImport(t *testing.T) {
	ctx := context.Background()
	c := NewCollection(store.NewMemoryStore(), PARENT, testMeta)
	populate(t, c, "a", "b")

	document, err := c.ExportAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, testMeta, document.Meta)
	require.Len(t, document.Terrains, 2)
	assert.Equal(t, idmap.ID(1), document.Terrains[0].ID)
	assert.Equal(t, "b", document.Terrains[1].Name)

	require.NoError(t, c.Delete(ctx, 1))

	// Document identifiers are ignored
	assigned, err := c.ImportAdditive(ctx, document)
	require.NoError(t, err)
	assert.Equal(t, []idmap.ID{1, 3}, assigned)
	assert.Equal(t, "a", nameOf(t, c, 1))
	assert.Equal(t, "b", nameOf(t, c, 2))
	assert.Equal(t, "b", nameOf(t, c, 3))

	id, err := c.Get(3).Value.ID(ctx)
	require.NoError(t, err)
	assert.Equal(t, idmap.ID(3), id)

	_, err = c.ImportAdditive(ctx, nil)
	assert.ErrorIs(t, err, ErrMissingUpload)

	assigned, err = c.ImportAdditive(ctx, &Document{})
	require.NoError(t, err)
	assert.Empty(t, assigned)
	assert.Equal(t, 3, c.Len())
}

func TestImportRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	c := NewCollection(s, PARENT, testMeta)
	populate(t, c, "a")

	document := &Document{Terrains: []Portable{
		{Config: named("fine")},
		{Config: Config{Anchor: AnchorMode(9)}},
	}}

	_, err := c.ImportAdditive(ctx, document)
	assert.Error(t, err)
	_, err = c.ReplaceAll(ctx, document)
	assert.Error(t, err)

	refs, err := s.List(ctx, PARENT)
	require.NoError(t, err)
	assert.Len(t, refs, 1)
	assert.Equal(t, []idmap.ID{1}, c.IDs())
}

func TestImportOne(t *testing.T) {
	ctx := context.Background()
	c := NewCollection(store.NewMemoryStore(), PARENT, testMeta)
	populate(t, c, "a", "b")

	document, err := c.ExportOne(ctx, 1)
	require.NoError(t, err)
	require.Len(t, document.Terrains, 1)

	require.NoError(t, c.ImportOne(ctx, 2, document))
	assert.Equal(t, "a", nameOf(t, c, 2))

	id, err := c.Get(2).Value.ID(ctx)
	require.NoError(t, err)
	assert.Equal(t, idmap.ID(2), id)

	assert.ErrorIs(t, c.ImportOne(ctx, 2, nil), ErrMissingUpload)
	assert.ErrorIs(t, c.ImportOne(ctx, 2, &Document{}), ErrMissingUpload)
	assert.ErrorIs(t, c.ImportOne(ctx, 9, document), ErrUnknownTerrain)

	_, err = c.ExportOne(ctx, 9)
	assert.ErrorIs(t, err, ErrUnknownTerrain)
}

func testReplaceAll(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := NewCollection(s, PARENT, testMeta)
	populate(t, c, "a", "b", "c")
	require.NoError(t, c.Delete(ctx, 1))

	document := &Document{Terrains: []Portable{
		{ID: 7, Config: named("x")},
		{ID: 9, Config: named("y")},
	}}

	assigned, err := c.ReplaceAll(ctx, document)
	require.NoError(t, err)
	assert.Equal(t, []idmap.ID{1, 2}, assigned)
	assert.Equal(t, []idmap.ID{1, 2}, c.IDs())
	assert.Equal(t, "x", nameOf(t, c, 1))
	assert.Equal(t, "y", nameOf(t, c, 2))

	refs, err := s.List(ctx, PARENT)
	require.NoError(t, err)
	assert.Len(t, refs, 2)

	// The persisted identifiers survive a reload
	reloaded := NewCollection(s, PARENT, testMeta)
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, "y", nameOf(t, reloaded, 2))

	_, err = c.ReplaceAll(ctx, nil)
	assert.ErrorIs(t, err, ErrMissingUpload)
}

func TestReplaceAllMemory(t *testing.T) {
	testReplaceAll(t, store.NewMemoryStore())
}

func TestReplaceAllSQL(t *testing.T) {
	db, err := store.InitDB(filepath.Join(t.TempDir(), "strata.db"))
	require.NoError(t, err)

	s := store.NewSQLStore(db)
	require.NoError(t, s.Migrate())
	testReplaceAll(t, s)
}

func TestReplaceAllInSteps(t *testing.T) {
	testReplaceAll(t, &failingStore{Store: store.NewMemoryStore()})
}

// failCreates makes the next n CreateMany calls fail.
func failCreates(s *failingStore, n int) {
	s.onCreate = func(int) error {
		if n == 0 {
			return nil
		}
		n--
		return errInjected
	}
}

func TestReplaceAllRestores(t *testing.T) {
	ctx := context.Background()
	s := &failingStore{Store: store.NewMemoryStore()}
	c := NewCollection(s, PARENT, testMeta)
	populate(t, c, "a", "b")

	failCreates(s, 1)
	_, err := c.ReplaceAll(ctx, &Document{Terrains: []Portable{{Config: named("x")}}})
	assert.ErrorIs(t, err, ErrReplaceFailed)
	assert.ErrorIs(t, err, errInjected)

	assert.Equal(t, []idmap.ID{1, 2}, c.IDs())
	assert.Equal(t, "a", nameOf(t, c, 1))
	assert.Equal(t, "b", nameOf(t, c, 2))

	refs, err := s.List(ctx, PARENT)
	require.NoError(t, err)
	assert.Len(t, refs, 2)

	document, err := c.ExportAll(ctx)
	require.NoError(t, err)
	assert.Len(t, document.Terrains, 2)
}

func TestReplaceAllRemovesPartialCreates(t *testing.T) {
	ctx := context.Background()
	s := &failingStore{Store: store.NewMemoryStore(), partial: true}
	c := NewCollection(s, PARENT, testMeta)
	populate(t, c, "a", "b")

	failCreates(s, 1)
	_, err := c.ReplaceAll(ctx, &Document{Terrains: []Portable{
		{Config: named("x")},
		{Config: named("y")},
	}})
	assert.ErrorIs(t, err, ErrReplaceFailed)

	refs, err := s.List(ctx, PARENT)
	require.NoError(t, err)
	require.Len(t, refs, 2)

	document, err := c.ExportAll(ctx)
	require.NoError(t, err)
	names := make([]string, 0)
	for _, portable := range document.Terrains {
		names = append(names, portable.Name)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}

func TestReplaceAllRestoreFails(t *testing.T) {
	ctx := context.Background()
	s := &failingStore{Store: store.NewMemoryStore()}
	c := NewCollection(s, PARENT, testMeta)
	populate(t, c, "a", "b")

	failCreates(s, 2)
	_, err := c.ReplaceAll(ctx, &Document{Terrains: []Portable{{Config: named("x")}}})
	assert.ErrorIs(t, err, ErrReplaceFailed)

	// The map reflects what is actually stored
	assert.Equal(t, 0, c.Len())
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	c := NewCollection(s, PARENT, testMeta)
	populate(t, c, "a", "b", "c")
	require.NoError(t, c.Delete(ctx, 1))

	require.NoError(t, c.Reset(ctx))
	assert.Equal(t, 0, c.Len())

	refs, err := s.List(ctx, PARENT)
	require.NoError(t, err)
	assert.Empty(t, refs)

	id, _, err := c.Create(ctx, named("fresh"))
	require.NoError(t, err)
	assert.Equal(t, idmap.ID(1), id)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	c := NewCollection(store.NewMemoryStore(), PARENT, testMeta)
	populate(t, c, "a")

	err := c.Update(ctx, 1, map[string]any{
		KEY_NAME:   "renamed",
		KEY_OFFSET: 3.5,
		KEY_ANCHOR: float64(AnchorFromLayer),
	})
	require.NoError(t, err)

	terrain := c.Get(1).Value
	config, err := terrain.Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, "renamed", config.Name)
	assert.Equal(t, 3.5, config.Offset)
	assert.Equal(t, AnchorFromLayer, config.Anchor)

	assert.Error(t, c.Update(ctx, 1, map[string]any{KEY_ID: 4}))
	assert.Error(t, c.Update(ctx, 1, map[string]any{"bogus": 1}))
	assert.Error(t, c.Update(ctx, 1, map[string]any{KEY_ANCHOR: 8}))
	assert.ErrorIs(t, c.Update(ctx, 7, map[string]any{KEY_NAME: "x"}), ErrUnknownTerrain)

	id, err := terrain.ID(ctx)
	require.NoError(t, err)
	assert.Equal(t, idmap.ID(1), id)
}

func TestChanges(t *testing.T) {
	ctx := context.Background()
	c := NewCollection(store.NewMemoryStore(), PARENT, testMeta)
	sub := c.Subscribe()
	defer sub.Done()

	populate(t, c, "a")
	require.NoError(t, c.Delete(ctx, 1))

	expect := []Change{
		{Kind: ChangeCreated, IDs: []idmap.ID{1}},
		{Kind: ChangeDeleted, IDs: []idmap.ID{1}},
	}
	for _, want := range expect {
		select {
		case got := <-sub.Recv():
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("no %s change", want.Kind)
		}
	}
}

func TestCollectionNewConfig(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	c := NewCollection(s, PARENT, testMeta)

	config, err := c.NewConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, AnchorFromTerrain, config.Anchor)
	assert.True(t, config.UserVisible)

	settings, err := RegisterSettings(ctx, s, "settings")
	require.NoError(t, err)
	require.NoError(t, DefaultAnchor.Set(ctx, settings, AnchorFixed))
	c.SetSettings(settings)

	config, err = c.NewConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, AnchorFixed, config.Anchor)
}
