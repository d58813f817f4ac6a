// Package idmap assigns small positive integer identifiers from a bounded
// space, reusing the lowest freed identifier before growing.
package idmap

import (
	"fmt"
	"math"
	"slices"

	"github.com/repeale/fp-go/option"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ID int

const (
	// Identifiers fit in five bits.
	BITS       = 5
	MaxID   ID = 1<<BITS - 1
	FirstID ID = 1
)

var (
	ErrInvalidID = fmt.Errorf("identifier must be a positive integer")
	ErrOccupied  = fmt.Errorf("identifier is already in use")
)

func (id ID) Valid() bool {
	return id >= FirstID
}

// InRange reports whether the identifier fits the identifier space.
func (id ID) InRange() bool {
	return id.Valid() && id <= MaxID
}

// ParseID converts a number received from a JSON-compatible source into an
// ID, rejecting fractional and non-positive values.
func ParseID(value float64) (ID, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) || value != math.Trunc(value) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidID, value)
	}

	if value < float64(FirstID) || value > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidID, value)
	}

	return ID(value), nil
}

// Map is an id -> value table that always knows the smallest identifier not
// currently in use. The zero value is not usable; call New.
type Map[T any] struct {
	entries map[ID]T
	next    ID
}

func New[T any]() *Map[T] {
	return &Map[T]{
		entries: make(map[ID]T),
		next:    FirstID,
	}
}

func (m *Map[T]) Logger() zerolog.Logger {
	return log.With().Str("service", "idmap").Logger()
}

func (m *Map[T]) warnRange(id ID) {
	if id <= MaxID {
		return
	}

	logger := m.Logger()
	logger.Warn().
		Int("id", int(id)).
		Int("max", int(MaxID)).
		Msg("identifier exceeds the identifier space")
}

// SetExplicit stores value under id. An occupied id is only replaced when
// override is set. Identifiers above MaxID are accepted with a warning.
func (m *Map[T]) SetExplicit(id ID, value T, override bool) (ID, error) {
	if !id.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidID, id)
	}

	if _, ok := m.entries[id]; ok && !override {
		return 0, fmt.Errorf("%w: %d", ErrOccupied, id)
	}

	m.warnRange(id)
	m.entries[id] = value
	m.recompute()
	return id, nil
}

// Allocate stores value under the next free identifier and returns it.
func (m *Map[T]) Allocate(value T) ID {
	id := m.next
	m.warnRange(id)
	m.entries[id] = value
	m.recompute()
	return id
}

// Release removes id, returning whether anything was removed.
func (m *Map[T]) Release(id ID) bool {
	if _, ok := m.entries[id]; !ok {
		return false
	}

	delete(m.entries, id)

	// Everything below next was in use, so id is now the smallest gap.
	if id < m.next {
		m.next = id
	}
	return true
}

// Clone copies the table. Values are shared.
func (m *Map[T]) Clone() *Map[T] {
	entries := make(map[ID]T, len(m.entries))
	for id, value := range m.entries {
		entries[id] = value
	}
	return &Map[T]{
		entries: entries,
		next:    m.next,
	}
}

func (m *Map[T]) Reset() {
	m.entries = make(map[ID]T)
	m.next = FirstID
}

func (m *Map[T]) Get(id ID) opt.Option[T] {
	value, ok := m.entries[id]
	if !ok {
		return opt.None[T]()
	}
	return opt.Some[T](value)
}

func (m *Map[T]) Has(id ID) bool {
	_, ok := m.entries[id]
	return ok
}

func (m *Map[T]) Len() int {
	return len(m.entries)
}

// Next returns the identifier the next call to Allocate will use.
func (m *Map[T]) Next() ID {
	return m.next
}

// IDs returns the identifiers in use in ascending order.
func (m *Map[T]) IDs() []ID {
	ids := make([]ID, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Each visits entries in ascending identifier order and stops at the first
// error.
func (m *Map[T]) Each(fn func(ID, T) error) error {
	for _, id := range m.IDs() {
		if err := fn(id, m.entries[id]); err != nil {
			return err
		}
	}
	return nil
}

// recompute points next at the smallest unused identifier after an insert.
// It relies on every identifier below next being in use beforehand, which
// Release keeps true by moving next down itself.
func (m *Map[T]) recompute() {
	size := ID(len(m.entries))

	if _, taken := m.entries[m.next]; taken {
		// 1..next are in use and nothing above, so the prefix is dense.
		if size == m.next {
			m.next++
			return
		}
	} else if size == m.next-1 {
		return
	}

	ids := m.IDs()
	candidate := FirstID
	for _, id := range ids {
		if id != candidate {
			break
		}
		candidate++
	}

	m.next = candidate
}
