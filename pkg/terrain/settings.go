package terrain

import (
	"context"
	"errors"

	"github.com/cfoust/strata/pkg/store"
)

const SETTINGS_KIND = "settings"

var (
	DefaultAnchor      = Attribute[AnchorMode]{Key: "defaultAnchor", Default: AnchorFromTerrain, Check: checkAnchor}
	DefaultRangeAbove  = Attribute[float64]{Key: "defaultRangeAbove"}
	DefaultRangeBelow  = Attribute[float64]{Key: "defaultRangeBelow"}
	DefaultUserVisible = Attribute[bool]{Key: "defaultUserVisible", Default: true}
)

// Settings are world-level defaults kept in their own record.
type Settings struct {
	store store.Store
	ref   store.Ref
}

func (s *Settings) backing() (store.Store, store.Ref, error) {
	return s.store, s.ref, nil
}

func settingsDefaults() map[string]any {
	return map[string]any{
		DefaultAnchor.Key:      DefaultAnchor.Default,
		DefaultRangeAbove.Key:  DefaultRangeAbove.Default,
		DefaultRangeBelow.Key:  DefaultRangeBelow.Default,
		DefaultUserVisible.Key: DefaultUserVisible.Default,
	}
}

// RegisterSettings makes sure the settings record exists and holds a value
// for every known setting without overwriting existing ones.
func RegisterSettings(ctx context.Context, s store.Store, ref store.Ref) (*Settings, error) {
	settings := &Settings{store: s, ref: ref}
	defaults := settingsDefaults()

	snapshot, err := s.ToPortable(ctx, ref)
	if errors.Is(err, store.ErrMissing) {
		_, err := s.FromPortable(ctx, "", store.Snapshot{
			ID:         ref,
			Kind:       SETTINGS_KIND,
			Attributes: defaults,
		})
		if err != nil {
			return nil, err
		}
		return settings, nil
	}
	if err != nil {
		return nil, err
	}

	for _, key := range sortedKeys(defaults) {
		if _, ok := snapshot.Attributes[key]; ok {
			continue
		}

		err := s.Set(ctx, ref, key, defaults[key])
		if err != nil {
			return nil, err
		}
	}

	return settings, nil
}

// NewConfig returns a terrain configuration seeded with the defaults.
func (s *Settings) NewConfig(ctx context.Context) (Config, error) {
	config := Config{
		Icon:  DEFAULT_ICON,
		Color: DEFAULT_COLOR,
	}

	var err error
	if config.Anchor, err = DefaultAnchor.Get(ctx, s); err != nil {
		return Config{}, err
	}
	if config.RangeAbove, err = DefaultRangeAbove.Get(ctx, s); err != nil {
		return Config{}, err
	}
	if config.RangeBelow, err = DefaultRangeBelow.Get(ctx, s); err != nil {
		return Config{}, err
	}
	if config.UserVisible, err = DefaultUserVisible.Get(ctx, s); err != nil {
		return Config{}, err
	}

	return config, nil
}
