package store

import "errors"

// ErrNotFound is returned by stores when a tenant config or mapping does not exist.
var ErrNotFound = errors.New("not found")

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Mode        string // "postgres" or "sqlite"
	PostgresDSN string
	SQLitePath  string
}

// Stores is the top-level container for all storage backends.
type Stores struct {
	Tenants  TenantStore
	Mappings MappingStore

	// Close releases the underlying database handle.
	Close func() error
}
