package terrain

import (
	"context"
	"errors"
	"fmt"

	"github.com/cfoust/strata/pkg/idmap"
	"github.com/cfoust/strata/pkg/store"
	"github.com/cfoust/strata/pkg/utils"

	"github.com/repeale/fp-go/option"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sasha-s/go-deadlock"
)

var (
	ErrMissingUpload  = fmt.Errorf("no document was provided")
	ErrReplaceFailed  = fmt.Errorf("could not replace terrains")
	ErrUnknownTerrain = fmt.Errorf("unknown terrain")
)

type ChangeKind string

const (
	ChangeLoaded   ChangeKind = "loaded"
	ChangeCreated  ChangeKind = "created"
	ChangeUpdated  ChangeKind = "updated"
	ChangeDeleted  ChangeKind = "deleted"
	ChangeImported ChangeKind = "imported"
	ChangeReplaced ChangeKind = "replaced"
)

type Change struct {
	Kind ChangeKind `json:"kind"`
	IDs  []idmap.ID `json:"ids"`
}

// Collection is the set of terrains stored under one parent record, keyed by
// identifier. All operations are serialized.
type Collection struct {
	store    store.Store
	parent   store.Ref
	meta     Provenance
	settings *Settings
	ids      *idmap.Map[*Terrain]
	changes  *utils.Topic[Change]
	mutex    deadlock.Mutex
}

func NewCollection(s store.Store, parent store.Ref, meta Provenance) *Collection {
	return &Collection{
		store:   s,
		parent:  parent,
		meta:    meta,
		ids:     idmap.New[*Terrain](),
		changes: utils.NewTopic[Change](),
	}
}

func (c *Collection) Logger() zerolog.Logger {
	return log.With().
		Str("service", "terrains").
		Str("parent", string(c.parent)).
		Logger()
}

func (c *Collection) SetSettings(settings *Settings) {
	c.mutex.Lock()
	c.settings = settings
	c.mutex.Unlock()
}

func (c *Collection) Subscribe() *utils.Subscriber[Change] {
	return c.changes.Subscribe()
}

func (c *Collection) publish(kind ChangeKind, ids ...idmap.ID) {
	c.changes.Publish(Change{Kind: kind, IDs: ids})
}

// NewConfig returns a configuration seeded with the world defaults.
func (c *Collection) NewConfig(ctx context.Context) (Config, error) {
	c.mutex.Lock()
	settings := c.settings
	c.mutex.Unlock()

	if settings == nil {
		return Config{
			Icon:        DEFAULT_ICON,
			Color:       DEFAULT_COLOR,
			Anchor:      DefaultAnchor.Default,
			UserVisible: DefaultUserVisible.Default,
		}, nil
	}

	return settings.NewConfig(ctx)
}

func (c *Collection) wrap(ref store.Ref) *Terrain {
	return New(c.store, c.parent, opt.Some[store.Ref](ref))
}

// Load rebuilds the identifier map from the persisted records. Persisted
// identifiers are kept; records without one, or whose identifier collides
// with an earlier record, are allocated a fresh one which is written back.
func (c *Collection) Load(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.load(ctx)
}

func (c *Collection) load(ctx context.Context) error {
	logger := c.Logger()

	refs, err := c.store.List(ctx, c.parent)
	if err != nil {
		return err
	}

	ids := idmap.New[*Terrain]()
	pending := make([]*Terrain, 0)
	for _, ref := range refs {
		terrain := c.wrap(ref)

		value, err := c.store.Get(ctx, ref, KEY_ID)
		if err != nil {
			return err
		}

		id, err := Identifier.Decode(value)
		if err != nil || !id.Valid() {
			pending = append(pending, terrain)
			continue
		}

		if ids.Has(id) {
			logger.Warn().
				Int("id", int(id)).
				Str("ref", string(ref)).
				Msg("terrain id collides with another record, reassigning")
			pending = append(pending, terrain)
			continue
		}

		ids.SetExplicit(id, terrain, false)
	}

	for _, terrain := range pending {
		id := ids.Allocate(terrain)
		err := Identifier.Set(ctx, terrain, id)
		if err != nil {
			return err
		}
	}

	c.ids = ids
	logger.Info().Int("count", ids.Len()).Msg("loaded terrains")
	c.publish(ChangeLoaded, ids.IDs()...)
	return nil
}

func (c *Collection) Get(id idmap.ID) opt.Option[*Terrain] {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.ids.Get(id)
}

func (c *Collection) IDs() []idmap.ID {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.ids.IDs()
}

type Entry struct {
	ID      idmap.ID
	Terrain *Terrain
}

// All returns every terrain in identifier order.
func (c *Collection) All() []Entry {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entries := make([]Entry, 0, c.ids.Len())
	c.ids.Each(func(id idmap.ID, terrain *Terrain) error {
		entries = append(entries, Entry{id, terrain})
		return nil
	})
	return entries
}

func (c *Collection) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.ids.Len()
}

// Create stores a new terrain under the next free identifier.
func (c *Collection) Create(ctx context.Context, config Config) (idmap.ID, *Terrain, error) {
	if err := config.Validate(); err != nil {
		return 0, nil, err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	id := c.ids.Next()
	snapshot := Portable{Config: config}.snapshot()
	snapshot.Attributes[KEY_ID] = id

	terrain := New(c.store, c.parent, opt.None[store.Ref]())
	err := terrain.create(ctx, snapshot)
	if err != nil {
		return 0, nil, err
	}

	c.ids.Allocate(terrain)
	c.publish(ChangeCreated, id)
	return id, terrain, nil
}

// CreateWithID stores a new terrain under id. An existing terrain with that
// id is only replaced, and its record deleted, when override is set.
func (c *Collection) CreateWithID(ctx context.Context, id idmap.ID, config Config, override bool) (*Terrain, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if !id.Valid() {
		return nil, fmt.Errorf("%w: %d", idmap.ErrInvalidID, id)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	previous := c.ids.Get(id)
	if opt.IsSome(previous) && !override {
		return nil, fmt.Errorf("%w: %d", idmap.ErrOccupied, id)
	}

	snapshot := Portable{Config: config}.snapshot()
	snapshot.Attributes[KEY_ID] = id

	terrain := New(c.store, c.parent, opt.None[store.Ref]())
	err := terrain.create(ctx, snapshot)
	if err != nil {
		return nil, err
	}

	_, err = c.ids.SetExplicit(id, terrain, override)
	if err != nil {
		return nil, err
	}
	c.publish(ChangeCreated, id)

	if opt.IsNone(previous) {
		return terrain, nil
	}

	_, ref, err := previous.Value.backing()
	if err != nil {
		return terrain, nil
	}

	err = c.store.Delete(ctx, ref)
	if err != nil {
		return terrain, fmt.Errorf("replaced terrain %d but could not delete its old record: %w", id, err)
	}

	return terrain, nil
}

// Update writes attributes by key. Every value is checked before anything is
// written.
func (c *Collection) Update(ctx context.Context, id idmap.ID, values map[string]any) error {
	keys := sortedKeys(values)
	for _, key := range keys {
		field, ok := FIELDS[key]
		if !ok {
			return fmt.Errorf("%w: unknown key %s", ErrInvalidAttribute, key)
		}

		err := field.Validate(values[key])
		if err != nil {
			return err
		}
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	terrain := c.ids.Get(id)
	if opt.IsNone(terrain) {
		return fmt.Errorf("%w: %d", ErrUnknownTerrain, id)
	}

	for _, key := range keys {
		err := FIELDS[key].SetValue(ctx, terrain.Value, values[key])
		if err != nil {
			return err
		}
	}

	c.publish(ChangeUpdated, id)
	return nil
}

// Delete removes the terrain's record and frees its identifier.
func (c *Collection) Delete(ctx context.Context, id idmap.ID) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	terrain := c.ids.Get(id)
	if opt.IsNone(terrain) {
		return fmt.Errorf("%w: %d", ErrUnknownTerrain, id)
	}

	_, ref, err := terrain.Value.backing()
	if err != nil {
		return err
	}

	err = c.store.Delete(ctx, ref)
	if err != nil {
		return err
	}

	c.ids.Release(id)
	c.publish(ChangeDeleted, id)
	return nil
}

func (c *Collection) document() *Document {
	return &Document{
		Terrains: make([]Portable, 0),
		Meta:     c.meta,
	}
}

func exportTerrain(ctx context.Context, id idmap.ID, terrain *Terrain) (Portable, error) {
	portable, err := terrain.ToPortable(ctx)
	if err != nil {
		return Portable{}, fmt.Errorf("could not export terrain %d: %w", id, err)
	}

	portable.ID = id
	return portable, nil
}

// ExportAll serializes every terrain in identifier order.
func (c *Collection) ExportAll(ctx context.Context) (*Document, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	document := c.document()
	err := c.ids.Each(func(id idmap.ID, terrain *Terrain) error {
		portable, err := exportTerrain(ctx, id, terrain)
		if err != nil {
			return err
		}

		document.Terrains = append(document.Terrains, portable)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return document, nil
}

func (c *Collection) ExportOne(ctx context.Context, id idmap.ID) (*Document, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	terrain := c.ids.Get(id)
	if opt.IsNone(terrain) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTerrain, id)
	}

	portable, err := exportTerrain(ctx, id, terrain.Value)
	if err != nil {
		return nil, err
	}

	document := c.document()
	document.Terrains = append(document.Terrains, portable)
	return document, nil
}

// prepare turns the document into snapshots carrying the identifiers ids
// would hand out, without touching ids.
func prepare(document *Document, ids *idmap.Map[*Terrain]) ([]store.Snapshot, []idmap.ID, error) {
	snapshots := make([]store.Snapshot, 0, len(document.Terrains))
	assigned := make([]idmap.ID, 0, len(document.Terrains))

	for i, portable := range document.Terrains {
		if err := portable.Config.Validate(); err != nil {
			return nil, nil, fmt.Errorf("terrain %d in document: %w", i, err)
		}

		id := ids.Allocate(nil)
		snapshot := portable.snapshot()
		snapshot.Attributes[KEY_ID] = id

		snapshots = append(snapshots, snapshot)
		assigned = append(assigned, id)
	}

	return snapshots, assigned, nil
}

// ImportAdditive adds every terrain in the document as a new record.
// Identifiers in the document are ignored; new ones are allocated.
func (c *Collection) ImportAdditive(ctx context.Context, document *Document) ([]idmap.ID, error) {
	if document == nil {
		return nil, ErrMissingUpload
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	snapshots, assigned, err := prepare(document, c.ids.Clone())
	if err != nil {
		return nil, err
	}

	refs, err := c.store.CreateMany(ctx, c.parent, snapshots)
	if err != nil {
		return nil, err
	}

	for _, ref := range refs {
		c.ids.Allocate(c.wrap(ref))
	}

	logger := c.Logger()
	logger.Info().Int("count", len(refs)).Msg("imported terrains")
	c.publish(ChangeImported, assigned...)
	return assigned, nil
}

// ImportOne overwrites the attributes of terrain id with the first terrain
// in the document.
func (c *Collection) ImportOne(ctx context.Context, id idmap.ID, document *Document) error {
	if document == nil || len(document.Terrains) == 0 {
		return ErrMissingUpload
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	terrain := c.ids.Get(id)
	if opt.IsNone(terrain) {
		return fmt.Errorf("%w: %d", ErrUnknownTerrain, id)
	}

	err := terrain.Value.UpdateFromPortable(ctx, document.Terrains[0])
	if err != nil {
		return err
	}

	c.publish(ChangeUpdated, id)
	return nil
}

// ReplaceAll swaps the whole collection for the document's terrains, which
// are numbered from 1. On failure the previous terrains remain and the error
// wraps ErrReplaceFailed.
func (c *Collection) ReplaceAll(ctx context.Context, document *Document) ([]idmap.ID, error) {
	if document == nil {
		return nil, ErrMissingUpload
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.replace(ctx, document)
}

// Reset deletes every terrain and restarts numbering at 1.
func (c *Collection) Reset(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, err := c.replace(ctx, c.document())
	return err
}

func (c *Collection) replace(ctx context.Context, document *Document) ([]idmap.ID, error) {
	logger := c.Logger()

	fresh := idmap.New[*Terrain]()
	snapshots, assigned, err := prepare(document, fresh)
	if err != nil {
		return nil, err
	}

	var refs []store.Ref
	if replacer, ok := c.store.(store.Replacer); ok {
		refs, err = replacer.Replace(ctx, c.parent, snapshots)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrReplaceFailed, err)
		}
	} else {
		refs, err = c.replaceInSteps(ctx, snapshots)
		if err != nil {
			return nil, err
		}
	}

	fresh.Reset()
	for _, ref := range refs {
		fresh.Allocate(c.wrap(ref))
	}
	c.ids = fresh

	logger.Info().Int("count", len(refs)).Msg("replaced terrains")
	c.publish(ChangeReplaced, assigned...)
	return assigned, nil
}

// replaceInSteps deletes and recreates for stores without Replace, putting
// the old records back if anything fails after deletion has begun.
func (c *Collection) replaceInSteps(ctx context.Context, snapshots []store.Snapshot) ([]store.Ref, error) {
	logger := c.Logger()

	old, err := c.store.List(ctx, c.parent)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReplaceFailed, err)
	}

	backup := make([]store.Snapshot, 0, len(old))
	for _, ref := range old {
		snapshot, err := c.store.ToPortable(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrReplaceFailed, err)
		}

		snapshot.ID = ref
		backup = append(backup, snapshot)
	}

	err = c.store.Delete(ctx, old...)
	if err == nil {
		var refs []store.Ref
		refs, err = c.store.CreateMany(ctx, c.parent, snapshots)
		if err == nil {
			return refs, nil
		}
	}

	logger.Error().Err(err).Msg("replace failed after deletion began, restoring previous terrains")

	restoreErr := c.restore(ctx, backup)
	if restoreErr != nil {
		logger.Error().Err(restoreErr).Msg("could not restore previous terrains")

		if loadErr := c.load(ctx); loadErr != nil {
			logger.Error().Err(loadErr).Msg("could not reload terrains")
		}

		return nil, fmt.Errorf(
			"%w: %w (restore also failed: %v)",
			ErrReplaceFailed,
			err,
			restoreErr,
		)
	}

	return nil, fmt.Errorf("%w: %w", ErrReplaceFailed, err)
}

// restore deletes records that are not in the backup, such as ones a failed
// CreateMany left behind, then recreates whichever backed up records no
// longer exist.
func (c *Collection) restore(ctx context.Context, backup []store.Snapshot) error {
	known := make(map[store.Ref]struct{}, len(backup))
	for _, snapshot := range backup {
		known[snapshot.ID] = struct{}{}
	}

	current, err := c.store.List(ctx, c.parent)
	if err != nil {
		return err
	}

	stray := make([]store.Ref, 0)
	for _, ref := range current {
		if _, ok := known[ref]; !ok {
			stray = append(stray, ref)
		}
	}

	if len(stray) > 0 {
		err = c.store.Delete(ctx, stray...)
		if err != nil {
			return err
		}
	}

	missing := make([]store.Snapshot, 0, len(backup))
	for _, snapshot := range backup {
		_, err := c.store.ToPortable(ctx, snapshot.ID)
		if errors.Is(err, store.ErrMissing) {
			missing = append(missing, snapshot)
			continue
		}
		if err != nil {
			return err
		}
	}

	if len(missing) == 0 {
		return nil
	}

	_, err = c.store.CreateMany(ctx, c.parent, missing)
	return err
}
