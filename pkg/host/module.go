// Package host brings a terrain collection up in a fixed sequence of phases.
package host

import (
	"context"
	"fmt"
	"time"

	"github.com/cfoust/strata/pkg/archive"
	"github.com/cfoust/strata/pkg/config"
	"github.com/cfoust/strata/pkg/store"
	"github.com/cfoust/strata/pkg/terrain"

	"github.com/go-redis/redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Phase string

const (
	PhasePatch              Phase = "patch"
	PhaseRegisterConfig     Phase = "register-config"
	PhaseRegisterSettings   Phase = "register-settings"
	PhaseLoadPersistentItem Phase = "load-persistent-item"
)

var PHASES = []Phase{
	PhasePatch,
	PhaseRegisterConfig,
	PhaseRegisterSettings,
	PhaseLoadPersistentItem,
}

// Host owns the stores and the collection. Store and Archive may be set
// before Start to skip opening them from the configuration.
type Host struct {
	Config   *config.Config
	Store    store.Store
	Archive  archive.Store
	Settings *terrain.Settings
	Terrains *terrain.Collection

	completed []Phase
	closers   []func() error
}

func New(config *config.Config) *Host {
	return &Host{
		Config:    config,
		completed: make([]Phase, 0, len(PHASES)),
	}
}

func (h *Host) Logger() zerolog.Logger {
	return log.With().Str("service", "host").Logger()
}

// Completed lists the phases that have finished, in order.
func (h *Host) Completed() []Phase {
	return append([]Phase(nil), h.completed...)
}

func (h *Host) run(ctx context.Context, phase Phase) error {
	switch phase {
	case PhasePatch:
		return h.patch(ctx)
	case PhaseRegisterConfig:
		return h.registerConfig(ctx)
	case PhaseRegisterSettings:
		return h.registerSettings(ctx)
	case PhaseLoadPersistentItem:
		return h.loadPersistentItem(ctx)
	}
	return fmt.Errorf("unknown phase %s", phase)
}

// Start runs every phase in order and stops at the first failure.
func (h *Host) Start(ctx context.Context) error {
	logger := h.Logger()

	for _, phase := range PHASES {
		start := time.Now()
		err := h.run(ctx, phase)
		if err != nil {
			logger.Error().Err(err).Str("phase", string(phase)).Msg("phase failed")
			return fmt.Errorf("phase %s: %w", phase, err)
		}

		h.completed = append(h.completed, phase)
		logger.Debug().
			Str("phase", string(phase)).
			Dur("took", time.Since(start)).
			Msg("phase complete")
	}

	logger.Info().Int("terrains", h.Terrains.Len()).Msg("host ready")
	return nil
}

func newRedisClient(settings config.RedisSettings) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     settings.Address,
		Password: settings.Password,
		DB:       settings.DB,
	})
}

func openStore(ctx context.Context, settings config.StoreSettings) (store.Store, func() error, error) {
	switch settings.Type {
	case config.StoreTypeMemory, "":
		return store.NewMemoryStore(), nil, nil
	case config.StoreTypeSQLite:
		db, err := store.InitDB(settings.Path)
		if err != nil {
			return nil, nil, err
		}

		sqlStore := store.NewSQLStore(db)
		err = sqlStore.Migrate()
		if err != nil {
			return nil, nil, err
		}

		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		return sqlStore, sqlDB.Close, nil
	case config.StoreTypeRedis:
		client := newRedisClient(settings.Redis)
		err := client.Ping(ctx).Err()
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return store.NewRedisStore(client), client.Close, nil
	}

	return nil, nil, fmt.Errorf("unknown store type %s", settings.Type)
}

func openArchive(ctx context.Context, settings config.ArchiveSettings) (archive.Store, func() error, error) {
	switch settings.Type {
	case config.ArchiveTypeFS, "":
		return archive.FSStore(settings.Directory), nil, nil
	case config.ArchiveTypeMemory:
		return archive.NewMemoryStore(), nil, nil
	case config.ArchiveTypeRedis:
		client := newRedisClient(settings.Redis)
		err := client.Ping(ctx).Err()
		if err != nil {
			client.Close()
			return nil, nil, err
		}

		ttl := time.Duration(settings.TTL) * time.Second
		return archive.NewRedisStore(client, ttl), client.Close, nil
	}

	return nil, nil, fmt.Errorf("unknown archive type %s", settings.Type)
}

// patch opens storage and brings its schema up to date.
func (h *Host) patch(ctx context.Context) error {
	if h.Store == nil {
		s, closer, err := openStore(ctx, h.Config.Store)
		if err != nil {
			return err
		}
		h.Store = s
		if closer != nil {
			h.closers = append(h.closers, closer)
		}
	}

	if h.Archive == nil {
		a, closer, err := openArchive(ctx, h.Config.Archive)
		if err != nil {
			return err
		}
		h.Archive = a
		if closer != nil {
			h.closers = append(h.closers, closer)
		}
	}

	return nil
}

func Provenance(c *config.Config) terrain.Provenance {
	return terrain.Provenance{
		OriginWorld:   c.World.ID,
		OriginSystem:  c.World.System,
		CoreVersion:   c.World.CoreVersion,
		SystemVersion: c.World.SystemVersion,
		ModuleVersion: c.Module.Version,
	}
}

func (h *Host) registerConfig(ctx context.Context) error {
	if h.Config.Store.Parent == "" {
		return fmt.Errorf("no parent record configured")
	}

	h.Terrains = terrain.NewCollection(
		h.Store,
		store.Ref(h.Config.Store.Parent),
		Provenance(h.Config),
	)
	return nil
}

func (h *Host) registerSettings(ctx context.Context) error {
	settings, err := terrain.RegisterSettings(
		ctx,
		h.Store,
		store.Ref(h.Config.Store.Settings),
	)
	if err != nil {
		return err
	}

	h.Settings = settings
	h.Terrains.SetSettings(settings)
	return nil
}

func (h *Host) loadPersistentItem(ctx context.Context) error {
	return h.Terrains.Load(ctx)
}

func (h *Host) Shutdown() error {
	var first error
	for i := len(h.closers) - 1; i >= 0; i-- {
		err := h.closers[i]()
		if err != nil && first == nil {
			first = err
		}
	}
	h.closers = nil
	return first
}
