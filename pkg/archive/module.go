// Package archive keeps exported terrain documents by file name, on disk or
// in redis.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cfoust/strata/pkg/exchange"
	"github.com/cfoust/strata/pkg/terrain"

	"github.com/go-redis/redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/sasha-s/go-deadlock"
)

type Store interface {
	Get(ctx context.Context, name string) ([]byte, error)
	Set(ctx context.Context, name string, data []byte) error
	List(ctx context.Context) ([]string, error)
}

var Missing = fmt.Errorf("document missing")

func FileExists(path string) bool {
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return true
	}
	return false
}

// FSStore is a directory of documents.
type FSStore string

func (f FSStore) getPath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("invalid document name %q", name)
	}
	return filepath.Join(string(f), name), nil
}

func (f FSStore) Get(ctx context.Context, name string) ([]byte, error) {
	target, err := f.getPath(name)
	if err != nil {
		return nil, err
	}

	if !FileExists(target) {
		return nil, Missing
	}

	return os.ReadFile(target)
}

func (f FSStore) Set(ctx context.Context, name string, data []byte) error {
	target, err := f.getPath(name)
	if err != nil {
		return err
	}

	err = os.MkdirAll(string(f), 0755)
	if err != nil {
		return err
	}

	return os.WriteFile(target, data, 0644)
}

func (f FSStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(string(f))
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, err := exchange.ForPath(entry.Name()); err != nil {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

const (
	DOCUMENT_KEY  = "strata-archive-%s"
	DOCUMENTS_KEY = "strata-archive"
)

// RedisStore keeps documents in redis. A zero ttl keeps them forever.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttl,
	}
}

func (r *RedisStore) Get(ctx context.Context, name string) ([]byte, error) {
	key := fmt.Sprintf(DOCUMENT_KEY, name)
	data, err := r.client.Get(ctx, key).Bytes()

	if err == redis.Nil {
		return nil, Missing
	}

	if err != nil {
		return nil, err
	}

	return data, nil
}

func (r *RedisStore) Set(ctx context.Context, name string, data []byte) error {
	key := fmt.Sprintf(DOCUMENT_KEY, name)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, r.ttl)
		pipe.SAdd(ctx, DOCUMENTS_KEY, name)
		return nil
	})
	return err
}

// List drops names whose documents have expired.
func (r *RedisStore) List(ctx context.Context) ([]string, error) {
	names, err := r.client.SMembers(ctx, DOCUMENTS_KEY).Result()
	if err != nil {
		return nil, err
	}

	live := make([]string, 0, len(names))
	for _, name := range names {
		exists, err := r.client.Exists(ctx, fmt.Sprintf(DOCUMENT_KEY, name)).Result()
		if err != nil {
			return nil, err
		}

		if exists == 0 {
			r.client.SRem(ctx, DOCUMENTS_KEY, name)
			continue
		}
		live = append(live, name)
	}

	sort.Strings(live)
	return live, nil
}

type MemoryStore struct {
	documents map[string][]byte
	mutex     deadlock.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string][]byte),
	}
}

func (m *MemoryStore) Get(ctx context.Context, name string) ([]byte, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	data, ok := m.documents[name]
	if !ok {
		return nil, Missing
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) Set(ctx context.Context, name string, data []byte) error {
	m.mutex.Lock()
	m.documents[name] = append([]byte(nil), data...)
	m.mutex.Unlock()
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	names := make([]string, 0, len(m.documents))
	for name := range m.documents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Save encodes document in the format its name implies and stores it.
func Save(ctx context.Context, s Store, name string, document *terrain.Document) error {
	codec, err := exchange.ForPath(name)
	if err != nil {
		return err
	}

	data, err := codec.Encode(document)
	if err != nil {
		return err
	}

	err = s.Set(ctx, name, data)
	if err != nil {
		return err
	}

	log.Info().
		Str("name", name).
		Int("terrains", len(document.Terrains)).
		Msg("archived document")
	return nil
}

func Load(ctx context.Context, s Store, name string) (*terrain.Document, error) {
	codec, err := exchange.ForPath(name)
	if err != nil {
		return nil, err
	}

	data, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	return codec.Decode(data)
}

var _ Store = (*FSStore)(nil)
var _ Store = (*RedisStore)(nil)
var _ Store = (*MemoryStore)(nil)
