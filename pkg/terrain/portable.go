package terrain

import (
	"context"
	"fmt"
	"sort"

	"github.com/cfoust/strata/pkg/idmap"
	"github.com/cfoust/strata/pkg/store"
)

// Portable is a terrain flattened for export: its attributes plus a snapshot
// of the backing record.
type Portable struct {
	ID     idmap.ID `json:"id,omitempty" yaml:"id,omitempty" cbor:"id,omitempty"`
	Config `yaml:",inline"`
	Record store.Snapshot `json:"record" yaml:"record" cbor:"record"`
}

// Provenance is stamped into every exported document.
type Provenance struct {
	OriginWorld   string `json:"originWorld" yaml:"originWorld" cbor:"originWorld"`
	OriginSystem  string `json:"originSystem" yaml:"originSystem" cbor:"originSystem"`
	CoreVersion   string `json:"coreVersion" yaml:"coreVersion" cbor:"coreVersion"`
	SystemVersion string `json:"systemVersion" yaml:"systemVersion" cbor:"systemVersion"`
	ModuleVersion string `json:"moduleVersion" yaml:"moduleVersion" cbor:"moduleVersion"`
}

type Document struct {
	Terrains []Portable `json:"terrains" yaml:"terrains" cbor:"terrains"`
	Meta     Provenance `json:"meta" yaml:"meta" cbor:"meta"`
}

func sortedKeys(attributes map[string]any) []string {
	keys := make([]string, 0, len(attributes))
	for key := range attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func configFromAttributes(attributes map[string]any) (Config, error) {
	var config Config
	var err error

	decoders := []func() error{
		func() error { config.Name, err = Name.Decode(attributes[KEY_NAME]); return err },
		func() error { config.Description, err = Description.Decode(attributes[KEY_DESCRIPTION]); return err },
		func() error { config.Icon, err = Icon.Decode(attributes[KEY_ICON]); return err },
		func() error { config.Color, err = Color.Decode(attributes[KEY_COLOR]); return err },
		func() error { config.Anchor, err = Anchor.Decode(attributes[KEY_ANCHOR]); return err },
		func() error { config.Offset, err = Offset.Decode(attributes[KEY_OFFSET]); return err },
		func() error { config.RangeAbove, err = RangeAbove.Decode(attributes[KEY_RANGE_ABOVE]); return err },
		func() error { config.RangeBelow, err = RangeBelow.Decode(attributes[KEY_RANGE_BELOW]); return err },
		func() error { config.UserVisible, err = UserVisible.Decode(attributes[KEY_USER_VISIBLE]); return err },
	}

	for _, decode := range decoders {
		if err := decode(); err != nil {
			return Config{}, err
		}
	}

	return config, nil
}

// Config reads every attribute from the backing record.
func (t *Terrain) Config(ctx context.Context) (Config, error) {
	s, ref, err := t.backing()
	if err != nil {
		return Config{}, err
	}

	snapshot, err := s.ToPortable(ctx, ref)
	if err != nil {
		return Config{}, err
	}

	return configFromAttributes(snapshot.Attributes)
}

func (t *Terrain) ToPortable(ctx context.Context) (Portable, error) {
	s, ref, err := t.backing()
	if err != nil {
		return Portable{}, err
	}

	snapshot, err := s.ToPortable(ctx, ref)
	if err != nil {
		return Portable{}, err
	}

	config, err := configFromAttributes(snapshot.Attributes)
	if err != nil {
		return Portable{}, err
	}

	id, err := Identifier.Decode(snapshot.Attributes[KEY_ID])
	if err != nil {
		return Portable{}, err
	}

	return Portable{
		ID:     id,
		Config: config,
		Record: snapshot,
	}, nil
}

// snapshot merges the typed attributes over the record snapshot. The
// identifier is always dropped.
func (p Portable) snapshot() store.Snapshot {
	attributes := make(map[string]any, len(p.Record.Attributes))
	for key, value := range p.Record.Attributes {
		attributes[key] = value
	}
	for key, value := range p.Config.attributes() {
		attributes[key] = value
	}
	delete(attributes, KEY_ID)

	return store.Snapshot{
		Kind:       KIND,
		Attributes: attributes,
	}
}

// UpdateFromPortable writes every attribute of p except the identifier.
// A backing record is created when the terrain has none. An existing record
// is merged into: keys it has that p lacks are left as they are, and its
// identifier never changes.
func (t *Terrain) UpdateFromPortable(ctx context.Context, p Portable) error {
	if err := p.Config.Validate(); err != nil {
		return err
	}

	snapshot := p.snapshot()
	if !t.HasRecord() {
		return t.create(ctx, snapshot)
	}

	s, ref, err := t.backing()
	if err != nil {
		return err
	}

	for _, key := range sortedKeys(snapshot.Attributes) {
		err := s.Set(ctx, ref, key, snapshot.Attributes[key])
		if err != nil {
			return fmt.Errorf("could not write %s: %w", key, err)
		}
	}

	return nil
}
