package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/cfoust/strata/pkg/utils"

	"github.com/sasha-s/go-deadlock"
)

type memoryRecord struct {
	parent     Ref
	kind       string
	sequence   uint64
	attributes map[string]any
}

// MemoryStore keeps records in process. It is used for tests and for the
// "memory" store type.
type MemoryStore struct {
	records  map[Ref]*memoryRecord
	sequence uint64
	mutex    deadlock.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[Ref]*memoryRecord),
	}
}

func (m *MemoryStore) Get(ctx context.Context, ref Ref, key string) (any, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	record, ok := m.records[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissing, ref)
	}

	value, ok := record.attributes[key]
	if !ok {
		return nil, nil
	}

	// Hand out a copy so callers cannot mutate stored state.
	return Normalize(value)
}

func (m *MemoryStore) Set(ctx context.Context, ref Ref, key string, value any) error {
	normalized, err := Normalize(value)
	if err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	record, ok := m.records[ref]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissing, ref)
	}

	record.attributes[key] = normalized
	return nil
}

// prepare validates snapshots and assigns refs without touching the store.
func (m *MemoryStore) prepare(parent Ref, records []Snapshot, removed map[Ref]struct{}) ([]Ref, []*memoryRecord, error) {
	refs := make([]Ref, 0, len(records))
	prepared := make([]*memoryRecord, 0, len(records))
	seen := make(map[Ref]struct{})

	for _, record := range records {
		attributes, err := normalizeAttributes(record.Attributes)
		if err != nil {
			return nil, nil, err
		}

		ref := record.ID
		if ref == "" {
			id, err := utils.NewID()
			if err != nil {
				return nil, nil, err
			}
			ref = Ref(id)
		}

		_, taken := m.records[ref]
		if _, ok := removed[ref]; ok {
			taken = false
		}
		if _, ok := seen[ref]; ok {
			taken = true
		}
		if taken {
			return nil, nil, fmt.Errorf("record already exists: %s", ref)
		}
		seen[ref] = struct{}{}

		refs = append(refs, ref)
		prepared = append(prepared, &memoryRecord{
			parent:     parent,
			kind:       record.Kind,
			attributes: attributes,
		})
	}

	return refs, prepared, nil
}

func (m *MemoryStore) insert(refs []Ref, prepared []*memoryRecord) {
	for i, ref := range refs {
		m.sequence++
		record := prepared[i]
		record.sequence = m.sequence
		m.records[ref] = record
	}
}

func (m *MemoryStore) CreateMany(ctx context.Context, parent Ref, records []Snapshot) ([]Ref, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	refs, prepared, err := m.prepare(parent, records, nil)
	if err != nil {
		return nil, err
	}

	m.insert(refs, prepared)
	return refs, nil
}

func (m *MemoryStore) list(parent Ref) []Ref {
	type entry struct {
		ref      Ref
		sequence uint64
	}

	entries := make([]entry, 0)
	for ref, record := range m.records {
		if record.parent != parent {
			continue
		}
		entries = append(entries, entry{ref, record.sequence})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].sequence < entries[j].sequence
	})

	refs := make([]Ref, len(entries))
	for i, entry := range entries {
		refs[i] = entry.ref
	}
	return refs
}

func (m *MemoryStore) List(ctx context.Context, parent Ref) ([]Ref, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.list(parent), nil
}

func (m *MemoryStore) Delete(ctx context.Context, refs ...Ref) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, ref := range refs {
		if _, ok := m.records[ref]; !ok {
			return fmt.Errorf("%w: %s", ErrMissing, ref)
		}
	}

	for _, ref := range refs {
		delete(m.records, ref)
	}
	return nil
}

func (m *MemoryStore) ToPortable(ctx context.Context, ref Ref) (Snapshot, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	record, ok := m.records[ref]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrMissing, ref)
	}

	return Snapshot{
		Kind:       record.kind,
		Attributes: copyAttributes(record.attributes),
	}, nil
}

func (m *MemoryStore) FromPortable(ctx context.Context, parent Ref, record Snapshot) (Ref, error) {
	refs, err := m.CreateMany(ctx, parent, []Snapshot{record})
	if err != nil {
		return "", err
	}
	return refs[0], nil
}

func (m *MemoryStore) Replace(ctx context.Context, parent Ref, records []Snapshot) ([]Ref, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	old := m.list(parent)
	removed := make(map[Ref]struct{}, len(old))
	for _, ref := range old {
		removed[ref] = struct{}{}
	}

	refs, prepared, err := m.prepare(parent, records, removed)
	if err != nil {
		return nil, err
	}

	for _, ref := range old {
		delete(m.records, ref)
	}
	m.insert(refs, prepared)
	return refs, nil
}

var _ Store = (*MemoryStore)(nil)
var _ Replacer = (*MemoryStore)(nil)
