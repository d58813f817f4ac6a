package config

import "fmt"

type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeSQLite StoreType = "sqlite"
	StoreTypeRedis  StoreType = "redis"
)

type ArchiveType string

const (
	ArchiveTypeFS     ArchiveType = "fs"
	ArchiveTypeRedis  ArchiveType = "redis"
	ArchiveTypeMemory ArchiveType = "memory"
)

type ModuleSettings struct {
	ID      string
	Version string
}

// WorldSettings describe the host world and are stamped into exports.
type WorldSettings struct {
	ID            string
	System        string
	SystemVersion string
	CoreVersion   string
}

type RedisSettings struct {
	Address  string
	Password string
	DB       int
}

type StoreSettings struct {
	Type StoreType
	// Path is the sqlite database file.
	Path     string
	Parent   string
	Settings string
	Redis    RedisSettings
}

type ArchiveSettings struct {
	Type      ArchiveType
	Directory string
	// TTL in seconds for redis, 0 keeps documents forever.
	TTL   int
	Redis RedisSettings
}

type APISettings struct {
	Port int
}

type Config struct {
	Module  ModuleSettings
	World   WorldSettings
	Store   StoreSettings
	Archive ArchiveSettings
	API     APISettings
}

// Validate checks constraints that span more than one field.
func (c *Config) Validate() error {
	if c.Store.Parent == c.Store.Settings {
		return fmt.Errorf(
			"%w: store.parent and store.settings are both %q",
			ErrInvalid,
			c.Store.Parent,
		)
	}

	if c.Store.Type == StoreTypeSQLite && c.Store.Path == "" {
		return fmt.Errorf("%w: sqlite store needs store.path", ErrInvalid)
	}

	if c.Archive.Type == ArchiveTypeFS && c.Archive.Directory == "" {
		return fmt.Errorf("%w: fs archive needs archive.directory", ErrInvalid)
	}

	return nil
}
