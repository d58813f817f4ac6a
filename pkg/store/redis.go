package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cfoust/strata/pkg/utils"

	"github.com/go-redis/redis/v9"
)

const (
	RECORD_PREFIX    = "strata-record-"
	KEY_RECORD_META  = RECORD_PREFIX + "meta-%s"
	KEY_RECORD_ATTRS = RECORD_PREFIX + "attributes-%s"
	KEY_CHILDREN     = RECORD_PREFIX + "children-%s"

	FIELD_PARENT = "parent"
	FIELD_KIND   = "kind"
)

// RedisStore keeps each record as two hashes (metadata and attributes) and
// each parent as a list of child refs. Attribute values are stored as JSON.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
	}
}

func metaKey(ref Ref) string {
	return fmt.Sprintf(KEY_RECORD_META, ref)
}

func attrsKey(ref Ref) string {
	return fmt.Sprintf(KEY_RECORD_ATTRS, ref)
}

func childrenKey(parent Ref) string {
	return fmt.Sprintf(KEY_CHILDREN, parent)
}

func (r *RedisStore) exists(ctx context.Context, ref Ref) error {
	count, err := r.client.Exists(ctx, metaKey(ref)).Result()
	if err != nil {
		return err
	}

	if count == 0 {
		return fmt.Errorf("%w: %s", ErrMissing, ref)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, ref Ref, key string) (any, error) {
	data, err := r.client.HGet(ctx, attrsKey(ref), key).Result()
	if err == redis.Nil {
		return nil, r.exists(ctx, ref)
	}
	if err != nil {
		return nil, err
	}

	var value any
	err = json.Unmarshal([]byte(data), &value)
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (r *RedisStore) Set(ctx context.Context, ref Ref, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("value is not JSON-compatible: %w", err)
	}

	err = r.exists(ctx, ref)
	if err != nil {
		return err
	}

	return r.client.HSet(ctx, attrsKey(ref), key, string(data)).Err()
}

type redisRow struct {
	ref   Ref
	kind  string
	attrs map[string]interface{}
}

func (r *RedisStore) build(records []Snapshot) ([]Ref, []redisRow, error) {
	refs := make([]Ref, 0, len(records))
	rows := make([]redisRow, 0, len(records))

	for _, record := range records {
		attrs := make(map[string]interface{}, len(record.Attributes))
		for key, value := range record.Attributes {
			data, err := json.Marshal(value)
			if err != nil {
				return nil, nil, fmt.Errorf("attribute %s is not JSON-compatible: %w", key, err)
			}
			attrs[key] = string(data)
		}

		ref := record.ID
		if ref == "" {
			id, err := utils.NewID()
			if err != nil {
				return nil, nil, err
			}
			ref = Ref(id)
		}

		refs = append(refs, ref)
		rows = append(rows, redisRow{ref, record.Kind, attrs})
	}

	return refs, rows, nil
}

func queueCreate(ctx context.Context, pipe redis.Pipeliner, parent Ref, rows []redisRow) {
	for _, row := range rows {
		pipe.HSet(ctx, metaKey(row.ref), map[string]interface{}{
			FIELD_PARENT: string(parent),
			FIELD_KIND:   row.kind,
		})
		if len(row.attrs) > 0 {
			pipe.HSet(ctx, attrsKey(row.ref), row.attrs)
		}
		pipe.RPush(ctx, childrenKey(parent), string(row.ref))
	}
}

func (r *RedisStore) CreateMany(ctx context.Context, parent Ref, records []Snapshot) ([]Ref, error) {
	refs, rows, err := r.build(records)
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return refs, nil
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		queueCreate(ctx, pipe, parent, rows)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return refs, nil
}

func (r *RedisStore) List(ctx context.Context, parent Ref) ([]Ref, error) {
	values, err := r.client.LRange(ctx, childrenKey(parent), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	refs := make([]Ref, len(values))
	for i, value := range values {
		refs[i] = Ref(value)
	}
	return refs, nil
}

func (r *RedisStore) Delete(ctx context.Context, refs ...Ref) error {
	parents := make(map[Ref]Ref, len(refs))
	for _, ref := range refs {
		parent, err := r.client.HGet(ctx, metaKey(ref), FIELD_PARENT).Result()
		if err == redis.Nil {
			return fmt.Errorf("%w: %s", ErrMissing, ref)
		}
		if err != nil {
			return err
		}
		parents[ref] = Ref(parent)
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for ref, parent := range parents {
			pipe.Del(ctx, metaKey(ref), attrsKey(ref))
			pipe.LRem(ctx, childrenKey(parent), 0, string(ref))
		}
		return nil
	})
	return err
}

func (r *RedisStore) ToPortable(ctx context.Context, ref Ref) (Snapshot, error) {
	kind, err := r.client.HGet(ctx, metaKey(ref), FIELD_KIND).Result()
	if err == redis.Nil {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrMissing, ref)
	}
	if err != nil {
		return Snapshot{}, err
	}

	values, err := r.client.HGetAll(ctx, attrsKey(ref)).Result()
	if err != nil {
		return Snapshot{}, err
	}

	attributes := make(map[string]any, len(values))
	for key, data := range values {
		var value any
		err := json.Unmarshal([]byte(data), &value)
		if err != nil {
			return Snapshot{}, fmt.Errorf("attribute %s: %w", key, err)
		}
		attributes[key] = value
	}

	return Snapshot{
		Kind:       kind,
		Attributes: attributes,
	}, nil
}

func (r *RedisStore) FromPortable(ctx context.Context, parent Ref, record Snapshot) (Ref, error) {
	refs, err := r.CreateMany(ctx, parent, []Snapshot{record})
	if err != nil {
		return "", err
	}
	return refs[0], nil
}

// Replace swaps the children of parent inside one MULTI/EXEC block.
func (r *RedisStore) Replace(ctx context.Context, parent Ref, records []Snapshot) ([]Ref, error) {
	refs, rows, err := r.build(records)
	if err != nil {
		return nil, err
	}

	key := childrenKey(parent)
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		old, err := tx.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, ref := range old {
				pipe.Del(ctx, metaKey(Ref(ref)), attrsKey(Ref(ref)))
			}
			pipe.Del(ctx, key)
			queueCreate(ctx, pipe, parent, rows)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return nil, err
	}

	return refs, nil
}

var _ Store = (*RedisStore)(nil)
var _ Replacer = (*RedisStore)(nil)
