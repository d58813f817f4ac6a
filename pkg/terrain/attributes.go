package terrain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cfoust/strata/pkg/idmap"
	"github.com/cfoust/strata/pkg/store"

	"github.com/rs/zerolog/log"
)

// Holder is anything backed by a single store record.
type Holder interface {
	backing() (store.Store, store.Ref, error)
}

// Attribute is typed access to one key of a backing record. Reads and
// writes always go to the store.
type Attribute[T any] struct {
	Key     string
	Default T
	// Check, when set, rejects values before they are written.
	Check func(T) error
}

// Field is the untyped view of an Attribute, used where values arrive as
// decoded JSON.
type Field interface {
	Name() string
	GetValue(ctx context.Context, h Holder) (any, error)
	SetValue(ctx context.Context, h Holder, value any) error
	Validate(value any) error
}

func (a Attribute[T]) Name() string {
	return a.Key
}

// Decode converts a JSON-compatible value into T. nil yields the default.
func (a Attribute[T]) Decode(value any) (T, error) {
	if value == nil {
		return a.Default, nil
	}

	if typed, ok := value.(T); ok {
		return typed, nil
	}

	var out T
	data, err := json.Marshal(value)
	if err != nil {
		return out, err
	}

	err = json.Unmarshal(data, &out)
	if err != nil {
		return out, fmt.Errorf("attribute %s: %w", a.Key, err)
	}

	return out, nil
}

func (a Attribute[T]) Get(ctx context.Context, h Holder) (T, error) {
	s, ref, err := h.backing()
	if err != nil {
		return a.Default, err
	}

	value, err := s.Get(ctx, ref, a.Key)
	if err != nil {
		return a.Default, fmt.Errorf("could not read %s: %w", a.Key, err)
	}

	return a.Decode(value)
}

// Set writes value and waits for the store to persist it.
func (a Attribute[T]) Set(ctx context.Context, h Holder, value T) error {
	if a.Check != nil {
		if err := a.Check(value); err != nil {
			return fmt.Errorf("%w %s: %w", ErrInvalidAttribute, a.Key, err)
		}
	}

	s, ref, err := h.backing()
	if err != nil {
		return err
	}

	err = s.Set(ctx, ref, a.Key, value)
	if err != nil {
		return fmt.Errorf("could not write %s: %w", a.Key, err)
	}

	return nil
}

// Go writes value without waiting. The result is delivered on the returned
// channel, and failures are logged so they are never lost when nobody reads
// it.
func (a Attribute[T]) Go(ctx context.Context, h Holder, value T) <-chan error {
	done := make(chan error, 1)
	go func() {
		err := a.Set(ctx, h, value)
		if err != nil {
			log.Error().Err(err).Str("attribute", a.Key).Msg("background write failed")
		}
		done <- err
	}()
	return done
}

// Validate reports whether value could be written, without writing it.
func (a Attribute[T]) Validate(value any) error {
	typed, err := a.Decode(value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAttribute, err)
	}

	if a.Check == nil {
		return nil
	}

	err = a.Check(typed)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrInvalidAttribute, a.Key, err)
	}
	return nil
}

func (a Attribute[T]) GetValue(ctx context.Context, h Holder) (any, error) {
	return a.Get(ctx, h)
}

func (a Attribute[T]) SetValue(ctx context.Context, h Holder, value any) error {
	typed, err := a.Decode(value)
	if err != nil {
		return err
	}
	return a.Set(ctx, h, typed)
}

const (
	KEY_ID           = "id"
	KEY_NAME         = "name"
	KEY_DESCRIPTION  = "description"
	KEY_ICON         = "icon"
	KEY_COLOR        = "color"
	KEY_ANCHOR       = "anchor"
	KEY_OFFSET       = "offset"
	KEY_RANGE_ABOVE  = "rangeAbove"
	KEY_RANGE_BELOW  = "rangeBelow"
	KEY_USER_VISIBLE = "userVisible"
)

var (
	Identifier  = Attribute[idmap.ID]{Key: KEY_ID}
	Name        = Attribute[string]{Key: KEY_NAME}
	Description = Attribute[string]{Key: KEY_DESCRIPTION}
	Icon        = Attribute[string]{Key: KEY_ICON, Default: DEFAULT_ICON}
	Color       = Attribute[string]{Key: KEY_COLOR, Default: DEFAULT_COLOR}
	Anchor      = Attribute[AnchorMode]{Key: KEY_ANCHOR, Check: checkAnchor}
	Offset      = Attribute[float64]{Key: KEY_OFFSET}
	RangeAbove  = Attribute[float64]{Key: KEY_RANGE_ABOVE}
	RangeBelow  = Attribute[float64]{Key: KEY_RANGE_BELOW}
	UserVisible = Attribute[bool]{Key: KEY_USER_VISIBLE}
)

func checkAnchor(mode AnchorMode) error {
	if !mode.Valid() {
		return fmt.Errorf("unknown anchor mode %d", int(mode))
	}
	return nil
}

const (
	DEFAULT_ICON  = "icons/svg/mountain.svg"
	DEFAULT_COLOR = "#ffffff"
)

// FIELDS are the attributes a caller may write by key. Identifiers only
// change through the collection.
var FIELDS = map[string]Field{
	KEY_NAME:         Name,
	KEY_DESCRIPTION:  Description,
	KEY_ICON:         Icon,
	KEY_COLOR:        Color,
	KEY_ANCHOR:       Anchor,
	KEY_OFFSET:       Offset,
	KEY_RANGE_ABOVE:  RangeAbove,
	KEY_RANGE_BELOW:  RangeBelow,
	KEY_USER_VISIBLE: UserVisible,
}
