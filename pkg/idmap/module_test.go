package idmap

import (
	"math/rand"
	"testing"

	"github.com/repeale/fp-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateConsecutive(t *testing.T) {
	m := New[string]()

	for want := FirstID; want <= 10; want++ {
		got := m.Allocate("terrain")
		assert.Equal(t, want, got)
	}
	assert.Equal(t, ID(11), m.Next())
}

func TestReleaseReusesGap(t *testing.T) {
	m := New[string]()
	for i := 0; i < 5; i++ {
		m.Allocate("terrain")
	}

	assert.True(t, m.Release(3))
	assert.Equal(t, ID(3), m.Next())
	assert.Equal(t, ID(3), m.Allocate("again"))
	assert.Equal(t, ID(6), m.Allocate("after"))

	// Lowest gap wins
	m.Release(4)
	m.Release(2)
	assert.Equal(t, ID(2), m.Allocate("low"))
	assert.Equal(t, ID(4), m.Allocate("high"))

	assert.False(t, m.Release(20))
}

func TestReleaseAbovePointer(t *testing.T) {
	m := New[string]()
	m.Allocate("a")
	_, err := m.SetExplicit(5, "e", false)
	require.NoError(t, err)
	assert.Equal(t, ID(2), m.Next())

	assert.True(t, m.Release(5))
	assert.Equal(t, ID(2), m.Next())
	assert.Equal(t, 1, m.Len())
}

func TestReleaseBelowSparseTail(t *testing.T) {
	m := New[string]()
	for i := 0; i < 3; i++ {
		m.Allocate("terrain")
	}
	_, err := m.SetExplicit(5, "e", false)
	require.NoError(t, err)
	assert.Equal(t, ID(4), m.Next())

	// {1,3,5} still has size next-1 but 2 is free
	assert.True(t, m.Release(2))
	assert.Equal(t, ID(2), m.Next())
	assert.Equal(t, ID(2), m.Allocate("again"))
	assert.Equal(t, ID(4), m.Allocate("after"))
	assert.Equal(t, ID(6), m.Next())

	m = New[string]()
	m.Allocate("a")
	m.Allocate("b")
	_, err = m.SetExplicit(4, "d", false)
	require.NoError(t, err)

	assert.True(t, m.Release(1))
	assert.Equal(t, FirstID, m.Next())
	assert.Equal(t, FirstID, m.Allocate("a"))
	assert.Equal(t, ID(3), m.Next())
}

// smallestUnused is the slow reference the pointer is checked against.
func smallestUnused[T any](m *Map[T]) ID {
	id := FirstID
	for m.Has(id) {
		id++
	}
	return id
}

func TestNextMatchesSmallestUnused(t *testing.T) {
	m := New[int]()
	rng := rand.New(rand.NewSource(31))

	for step := 0; step < 2000; step++ {
		id := ID(rng.Intn(int(MaxID)+4) + 1)

		switch rng.Intn(4) {
		case 0:
			want := m.Next()
			assert.Equal(t, want, m.Allocate(step), "step %d", step)
		case 1:
			m.SetExplicit(id, step, false)
		case 2:
			m.SetExplicit(id, step, true)
		case 3:
			m.Release(id)
		}

		require.Equal(t, smallestUnused(m), m.Next(), "step %d ids %v", step, m.IDs())

		if m.Len() > int(MaxID) {
			m.Reset()
		}
	}
}

func TestSetExplicitOccupied(t *testing.T) {
	m := New[string]()
	m.Allocate("a")
	m.Allocate("b")

	_, err := m.SetExplicit(2, "c", false)
	assert.ErrorIs(t, err, ErrOccupied)

	value := m.Get(2)
	require.True(t, opt.IsSome(value))
	assert.Equal(t, "b", value.Value)
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, ID(3), m.Next())

	id, err := m.SetExplicit(2, "c", true)
	require.NoError(t, err)
	assert.Equal(t, ID(2), id)
	assert.Equal(t, "c", m.Get(2).Value)
}

func TestOverrideDoesNotSkipPointer(t *testing.T) {
	m := New[string]()
	for i := 0; i < 3; i++ {
		m.Allocate("terrain")
	}

	// Size equals next-1 here; the pointer must stay on the free id 4.
	_, err := m.SetExplicit(2, "replacement", true)
	require.NoError(t, err)
	assert.Equal(t, ID(4), m.Next())
}

func TestSetExplicitInvalid(t *testing.T) {
	m := New[string]()

	_, err := m.SetExplicit(0, "zero", false)
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = m.SetExplicit(-3, "negative", false)
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = ParseID(1.5)
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = ParseID(0)
	assert.ErrorIs(t, err, ErrInvalidID)

	assert.Equal(t, 0, m.Len())
	assert.Equal(t, FirstID, m.Next())

	id, err := ParseID(7)
	require.NoError(t, err)
	assert.Equal(t, ID(7), id)
}

func TestSetExplicitBeyondMax(t *testing.T) {
	m := New[string]()

	id, err := m.SetExplicit(MaxID+4, "far", false)
	require.NoError(t, err)
	assert.Equal(t, MaxID+4, id)
	assert.False(t, id.InRange())
	assert.True(t, m.Has(MaxID+4))
	assert.Equal(t, FirstID, m.Next())
}

func TestAllocateBeyondMax(t *testing.T) {
	m := New[int]()
	for i := 0; i < int(MaxID); i++ {
		m.Allocate(i)
	}

	assert.Equal(t, MaxID+1, m.Next())
	assert.Equal(t, MaxID+1, m.Allocate(99))
}

func TestLeadingGap(t *testing.T) {
	m := New[string]()
	_, err := m.SetExplicit(2, "b", false)
	require.NoError(t, err)
	_, err = m.SetExplicit(3, "c", false)
	require.NoError(t, err)

	assert.Equal(t, FirstID, m.Next())
	assert.Equal(t, FirstID, m.Allocate("a"))
	assert.Equal(t, ID(4), m.Next())
}

func TestReset(t *testing.T) {
	m := New[string]()
	for i := 0; i < 4; i++ {
		m.Allocate("terrain")
	}

	m.Reset()
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, FirstID, m.Allocate("fresh"))
}

func TestEachOrder(t *testing.T) {
	m := New[string]()
	m.SetExplicit(9, "nine", false)
	m.SetExplicit(2, "two", false)
	m.Allocate("one")

	var seen []ID
	err := m.Each(func(id ID, _ string) error {
		seen = append(seen, id)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []ID{1, 2, 9}, seen)
	assert.True(t, opt.IsNone(m.Get(5)))
}

func TestClone(t *testing.T) {
	m := New[string]()
	m.Allocate("a")
	m.Allocate("b")

	clone := m.Clone()
	assert.Equal(t, ID(3), clone.Allocate("c"))
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, ID(3), m.Next())
}
