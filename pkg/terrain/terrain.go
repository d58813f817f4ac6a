// Package terrain models terrain records: typed attributes over a backing
// store record, the elevation band they describe, and collections of
// terrains keyed by small identifiers.
package terrain

import (
	"context"
	"fmt"

	"github.com/cfoust/strata/pkg/idmap"
	"github.com/cfoust/strata/pkg/store"

	"github.com/repeale/fp-go/option"
)

const KIND = "terrain"

var (
	ErrNoRecord         = fmt.Errorf("terrain has no backing record")
	ErrInvalidAttribute = fmt.Errorf("invalid attribute")
)

// Config is the initial attribute set of a terrain.
type Config struct {
	Name        string     `json:"name" yaml:"name" cbor:"name"`
	Description string     `json:"description" yaml:"description" cbor:"description"`
	Icon        string     `json:"icon" yaml:"icon" cbor:"icon"`
	Color       string     `json:"color" yaml:"color" cbor:"color"`
	Anchor      AnchorMode `json:"anchor" yaml:"anchor" cbor:"anchor"`
	Offset      float64    `json:"offset" yaml:"offset" cbor:"offset"`
	RangeAbove  float64    `json:"rangeAbove" yaml:"rangeAbove" cbor:"rangeAbove"`
	RangeBelow  float64    `json:"rangeBelow" yaml:"rangeBelow" cbor:"rangeBelow"`
	UserVisible bool       `json:"userVisible" yaml:"userVisible" cbor:"userVisible"`
}

func (c Config) Validate() error {
	err := checkAnchor(c.Anchor)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrInvalidAttribute, KEY_ANCHOR, err)
	}
	return nil
}

func (c Config) attributes() map[string]any {
	return map[string]any{
		KEY_NAME:         c.Name,
		KEY_DESCRIPTION:  c.Description,
		KEY_ICON:         c.Icon,
		KEY_COLOR:        c.Color,
		KEY_ANCHOR:       c.Anchor,
		KEY_OFFSET:       c.Offset,
		KEY_RANGE_ABOVE:  c.RangeAbove,
		KEY_RANGE_BELOW:  c.RangeBelow,
		KEY_USER_VISIBLE: c.UserVisible,
	}
}

// Terrain is a typed view over one backing record. It holds no attribute
// values itself.
type Terrain struct {
	store  store.Store
	parent store.Ref
	ref    opt.Option[store.Ref]
}

// New wraps ref, which may be None for a terrain whose record has not been
// created yet. Records are created under parent.
func New(s store.Store, parent store.Ref, ref opt.Option[store.Ref]) *Terrain {
	return &Terrain{
		store:  s,
		parent: parent,
		ref:    ref,
	}
}

func (t *Terrain) Ref() opt.Option[store.Ref] {
	return t.ref
}

func (t *Terrain) HasRecord() bool {
	return opt.IsSome(t.ref)
}

func (t *Terrain) backing() (store.Store, store.Ref, error) {
	if opt.IsNone(t.ref) {
		return nil, "", ErrNoRecord
	}
	return t.store, t.ref.Value, nil
}

func (t *Terrain) create(ctx context.Context, snapshot store.Snapshot) error {
	snapshot.Kind = KIND
	ref, err := t.store.FromPortable(ctx, t.parent, snapshot)
	if err != nil {
		return err
	}

	t.ref = opt.Some[store.Ref](ref)
	return nil
}

// Initialize applies config to the backing record, creating it when the
// terrain has none.
func (t *Terrain) Initialize(ctx context.Context, config Config) error {
	if err := config.Validate(); err != nil {
		return err
	}

	attributes := config.attributes()
	if !t.HasRecord() {
		return t.create(ctx, store.Snapshot{Attributes: attributes})
	}

	for _, key := range sortedKeys(attributes) {
		err := FIELDS[key].SetValue(ctx, t, attributes[key])
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *Terrain) ID(ctx context.Context) (idmap.ID, error) {
	return Identifier.Get(ctx, t)
}

func (t *Terrain) Name(ctx context.Context) (string, error) {
	return Name.Get(ctx, t)
}

func (t *Terrain) SetName(ctx context.Context, name string) error {
	return Name.Set(ctx, t, name)
}

func (t *Terrain) Description(ctx context.Context) (string, error) {
	return Description.Get(ctx, t)
}

func (t *Terrain) SetDescription(ctx context.Context, description string) error {
	return Description.Set(ctx, t, description)
}

func (t *Terrain) Icon(ctx context.Context) (string, error) {
	return Icon.Get(ctx, t)
}

func (t *Terrain) SetIcon(ctx context.Context, icon string) error {
	return Icon.Set(ctx, t, icon)
}

func (t *Terrain) Color(ctx context.Context) (string, error) {
	return Color.Get(ctx, t)
}

func (t *Terrain) SetColor(ctx context.Context, color string) error {
	return Color.Set(ctx, t, color)
}

func (t *Terrain) Anchor(ctx context.Context) (AnchorMode, error) {
	return Anchor.Get(ctx, t)
}

func (t *Terrain) SetAnchor(ctx context.Context, mode AnchorMode) error {
	return Anchor.Set(ctx, t, mode)
}

func (t *Terrain) Offset(ctx context.Context) (float64, error) {
	return Offset.Get(ctx, t)
}

func (t *Terrain) SetOffset(ctx context.Context, offset float64) error {
	return Offset.Set(ctx, t, offset)
}

func (t *Terrain) RangeAbove(ctx context.Context) (float64, error) {
	return RangeAbove.Get(ctx, t)
}

func (t *Terrain) SetRangeAbove(ctx context.Context, value float64) error {
	return RangeAbove.Set(ctx, t, value)
}

func (t *Terrain) RangeBelow(ctx context.Context) (float64, error) {
	return RangeBelow.Get(ctx, t)
}

func (t *Terrain) SetRangeBelow(ctx context.Context, value float64) error {
	return RangeBelow.Set(ctx, t, value)
}

func (t *Terrain) UserVisible(ctx context.Context) (bool, error) {
	return UserVisible.Get(ctx, t)
}

func (t *Terrain) SetUserVisible(ctx context.Context, visible bool) error {
	return UserVisible.Set(ctx, t, visible)
}

// ElevationMinMax returns the band this terrain covers given the elevation
// its anchor mode resolves to.
func (t *Terrain) ElevationMinMax(ctx context.Context, anchor float64) (Band, error) {
	offset, err := t.Offset(ctx)
	if err != nil {
		return Band{}, err
	}

	below, err := t.RangeBelow(ctx)
	if err != nil {
		return Band{}, err
	}

	above, err := t.RangeAbove(ctx)
	if err != nil {
		return Band{}, err
	}

	return ComputeBand(anchor, offset, below, above), nil
}
