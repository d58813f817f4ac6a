// Package store is the attribute storage capability terrains persist through.
// A record is an opaque document identified by a Ref, grouped under a parent
// Ref, holding JSON-compatible attribute values.
package store

import (
	"context"
	"encoding/json"
	"fmt"
)

type Ref string

var (
	ErrMissing = fmt.Errorf("record missing")
)

// Snapshot is the portable form of a record. ID is only consulted when
// creating a record and is never exported.
type Snapshot struct {
	ID         Ref            `json:"-" yaml:"-" cbor:"-"`
	Kind       string         `json:"kind" yaml:"kind" cbor:"kind"`
	Attributes map[string]any `json:"attributes" yaml:"attributes" cbor:"attributes"`
}

type Store interface {
	// Get returns nil without an error when the record exists but the key
	// was never set.
	Get(ctx context.Context, ref Ref, key string) (any, error)
	Set(ctx context.Context, ref Ref, key string, value any) error
	// CreateMany creates records under parent in order and returns their
	// refs in the same order. Either all records are created or none.
	CreateMany(ctx context.Context, parent Ref, records []Snapshot) ([]Ref, error)
	// List returns the refs under parent in creation order.
	List(ctx context.Context, parent Ref) ([]Ref, error)
	Delete(ctx context.Context, refs ...Ref) error
	ToPortable(ctx context.Context, ref Ref) (Snapshot, error)
	FromPortable(ctx context.Context, parent Ref, record Snapshot) (Ref, error)
}

// Replacer is implemented by stores that can swap every record under a
// parent in one atomic step.
type Replacer interface {
	Replace(ctx context.Context, parent Ref, records []Snapshot) ([]Ref, error)
}

// Normalize converts a value into the shape it would have after a round trip
// through JSON, so that every backend hands out the same types.
func Normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("value is not JSON-compatible: %w", err)
	}

	var out any
	err = json.Unmarshal(data, &out)
	if err != nil {
		return nil, err
	}

	return out, nil
}

func normalizeAttributes(attributes map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(attributes))
	for key, value := range attributes {
		normalized, err := Normalize(value)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", key, err)
		}
		out[key] = normalized
	}
	return out, nil
}

func copyAttributes(attributes map[string]any) map[string]any {
	// Values are normalized, so a JSON round trip is a deep copy.
	out, err := normalizeAttributes(attributes)
	if err != nil {
		return map[string]any{}
	}
	return out
}
