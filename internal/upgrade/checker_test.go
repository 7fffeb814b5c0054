package upgrade

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openSchemaDB(t *testing.T, version int, dirty bool) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "schema.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if version >= 0 {
		_, err = db.Exec(`CREATE TABLE schema_migrations (version INTEGER NOT NULL, dirty BOOLEAN NOT NULL)`)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO schema_migrations (version, dirty) VALUES (?, ?)`, version, dirty)
		require.NoError(t, err)
	}
	return db
}

func TestCheckSchema(t *testing.T) {
	ctx := context.Background()
	required := int(RequiredSchemaVersion)

	tests := []struct {
		name    string
		version int
		dirty   bool
		wantErr error
		migrate bool
	}{
		{name: "fresh database", version: -1, wantErr: ErrSchemaOutdated, migrate: true},
		{name: "outdated", version: required - 1, wantErr: ErrSchemaOutdated, migrate: true},
		{name: "current", version: required},
		{name: "ahead", version: required + 1, wantErr: ErrSchemaAhead},
		{name: "dirty", version: required, dirty: true, wantErr: ErrSchemaDirty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := CheckSchema(ctx, openSchemaDB(t, tt.version, tt.dirty))
			require.NoError(t, err)
			assert.Equal(t, tt.migrate, s.NeedsMigration)
			if tt.wantErr == nil {
				assert.NoError(t, s.Err())
				assert.True(t, s.Compatible)
				return
			}
			assert.ErrorIs(t, s.Err(), tt.wantErr)
			assert.NotEmpty(t, FormatError(s))
		})
	}
}
