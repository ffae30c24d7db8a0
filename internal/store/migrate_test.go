package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

func TestMigrate_FreshStoreReportsCurrentVersion(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	v, err := db.schemaVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, SchemaVersion, v)
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	// Open already migrated; a second and third run must be no-ops.
	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.Migrate(ctx))

	v, err := db.schemaVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, SchemaVersion, v)
}

// TestMigrate_SynthesizesLegacyKeys seeds a database shaped like schema v2
// (surrogate integer keys, credential_id column, no identity keys) and
// verifies the v3 step carries the rows across with the five-column
// synthesized key.
func TestMigrate_SynthesizesLegacyKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")

	// Build the v2 world by hand, bypassing Open.
	raw, err := sql.Open("sqlite3", "file:"+path)
	require.NoError(t, err)

	stmts := []string{
		`CREATE TABLE sync_meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
		`INSERT INTO sync_meta (key, value) VALUES ('schema_version', '2')`,
		`CREATE TABLE credentials (
			id TEXT PRIMARY KEY, display_name TEXT,
			last_four TEXT NOT NULL, created_at INTEGER NOT NULL)`,
		`CREATE TABLE sales (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			date TEXT NOT NULL,
			app_id INTEGER NOT NULL,
			app_name TEXT,
			package_id INTEGER NOT NULL,
			country_code TEXT NOT NULL,
			units_sold INTEGER NOT NULL,
			gross_revenue REAL NOT NULL,
			net_revenue REAL NOT NULL,
			currency TEXT NOT NULL,
			credential_id TEXT NOT NULL DEFAULT 'legacy',
			UNIQUE(date, app_id, package_id, country_code, credential_id))`,
		`INSERT INTO sales (date, app_id, app_name, package_id, country_code,
			units_sold, gross_revenue, net_revenue, currency, credential_id)
		 VALUES ('2023-06-01', 480, 'Example Game', 1234, 'US', 10, 99.9, 69.9, 'USD', 'cred-a')`,
		`INSERT INTO sales (date, app_id, app_name, package_id, country_code,
			units_sold, gross_revenue, net_revenue, currency, credential_id)
		 VALUES ('2023-06-02', 480, 'Example Game', 1234, 'DE', 3, 29.9, 20.9, 'EUR', 'legacy')`,
	}
	for _, stmt := range stmts {
		_, err := raw.Exec(stmt)
		require.NoError(t, err)
	}
	require.NoError(t, raw.Close())

	// Open runs the v3 migration.
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	v, err := db.schemaVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, SchemaVersion, v)

	var id string
	err = db.conn.QueryRowContext(ctx,
		"SELECT id FROM sales WHERE date = '2023-06-01'").Scan(&id)
	require.NoError(t, err)
	require.Equal(t, "2023-06-01|480|1234|US|cred-a", id)

	err = db.conn.QueryRowContext(ctx,
		"SELECT id FROM sales WHERE date = '2023-06-02'").Scan(&id)
	require.NoError(t, err)
	require.Equal(t, "2023-06-02|480|1234|DE|legacy", id)

	// Wide columns exist and are null for migrated rows.
	var platform sql.NullString
	err = db.conn.QueryRowContext(ctx,
		"SELECT platform FROM sales WHERE date = '2023-06-01'").Scan(&platform)
	require.NoError(t, err)
	require.False(t, platform.Valid)

	// The task queue arrived with v3.
	counts, err := db.CountByStatus(ctx)
	require.NoError(t, err)
	require.Empty(t, counts)
}

// TestMigrate_ResumeAfterWideTableKeepsFullKeys covers the recovery path
// where a previous process widened the sales table but died before its
// version write landed. Re-running the ladder must leave the full-width
// rows and their identity keys untouched instead of re-synthesizing
// five-column keys over them.
func TestMigrate_ResumeAfterWideTableKeepsFullKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.db")

	raw, err := sql.Open("sqlite3", "file:"+path)
	require.NoError(t, err)

	fullKey := "77|2024-01-02|Package|windows|US|USD|cred-1|1234||regular||19.99|9.99|||55"
	stmts := []string{
		`CREATE TABLE sync_meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
		// Version still says 2: the v3 rebuild finished, the write didn't.
		`INSERT INTO sync_meta (key, value) VALUES ('schema_version', '2')`,
		`CREATE TABLE sales (
			id TEXT PRIMARY KEY,
			date TEXT NOT NULL,
			app_id INTEGER NOT NULL,
			app_name TEXT,
			package_id INTEGER NOT NULL,
			country_code TEXT NOT NULL,
			units_sold INTEGER NOT NULL,
			gross_revenue REAL NOT NULL,
			net_revenue REAL NOT NULL,
			currency TEXT NOT NULL,
			credential_id TEXT NOT NULL,
			line_item_type TEXT,
			platform TEXT)`,
		`INSERT INTO sales (id, date, app_id, app_name, package_id, country_code,
			units_sold, gross_revenue, net_revenue, currency, credential_id,
			line_item_type, platform)
		 VALUES ('` + fullKey + `', '2024-01-02', 480, 'Example Game', 1234, 'US',
			10, 99.9, 69.9, 'USD', 'cred-1', 'Package', 'windows')`,
	}
	for _, stmt := range stmts {
		_, err := raw.Exec(stmt)
		require.NoError(t, err)
	}
	require.NoError(t, raw.Close())

	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	v, err := db.schemaVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, SchemaVersion, v)

	var id, lineItemType string
	err = db.conn.QueryRowContext(ctx,
		"SELECT id, line_item_type FROM sales").Scan(&id, &lineItemType)
	require.NoError(t, err)
	require.Equal(t, fullKey, id)
	require.Equal(t, "Package", lineItemType)
}

// TestMigrate_FromV1 walks the whole ladder: a v1 database without
// credentials gets tagged 'legacy' in v2 and keyed in v3.
func TestMigrate_FromV1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v1.db")

	raw, err := sql.Open("sqlite3", "file:"+path)
	require.NoError(t, err)

	stmts := []string{
		`CREATE TABLE sync_meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
		`INSERT INTO sync_meta (key, value) VALUES ('schema_version', '1')`,
		`CREATE TABLE sales (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			date TEXT NOT NULL,
			app_id INTEGER NOT NULL,
			app_name TEXT,
			package_id INTEGER NOT NULL,
			country_code TEXT NOT NULL,
			units_sold INTEGER NOT NULL,
			gross_revenue REAL NOT NULL,
			net_revenue REAL NOT NULL,
			currency TEXT NOT NULL,
			UNIQUE(date, app_id, package_id, country_code))`,
		`INSERT INTO sales (date, app_id, app_name, package_id, country_code,
			units_sold, gross_revenue, net_revenue, currency)
		 VALUES ('2022-01-15', 70, 'Old Game', 50, 'JP', 7, 70.0, 49.0, 'JPY')`,
	}
	for _, stmt := range stmts {
		_, err := raw.Exec(stmt)
		require.NoError(t, err)
	}
	require.NoError(t, raw.Close())

	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var id, credID string
	err = db.conn.QueryRow("SELECT id, credential_id FROM sales").Scan(&id, &credID)
	require.NoError(t, err)
	require.Equal(t, "legacy", credID)
	require.Equal(t, "2022-01-15|70|50|JP|legacy", id)
}
