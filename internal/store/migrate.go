package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// SchemaVersion is the version Migrate brings the store to.
const SchemaVersion = 3

const schemaVersionKey = "schema_version"

// Migrate brings the database from whatever version it is at to
// SchemaVersion, strictly in ascending order. Each step commits together
// with its version write in one transaction, so an interrupted migration
// leaves either the old version with the old shape or the new version with
// the new shape, never the new shape tagged with the old version. Any step
// error is fatal: a half-migrated store must not be used.
//
// Running Migrate on an already-current store is a no-op.
func (db *DB) Migrate(ctx context.Context) error {
	// sync_meta carries the version, so it exists before versioning starts.
	_, err := db.conn.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS sync_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed to create sync_meta: %w", err)
	}

	version, err := db.schemaVersion(ctx)
	if err != nil {
		return err
	}

	type step struct {
		to    int
		apply func(context.Context, *sql.Tx) error
	}
	steps := []step{
		{1, migrateV1},
		{2, migrateV2},
		{3, migrateV3},
	}

	for _, s := range steps {
		if version >= s.to {
			continue
		}
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration to v%d: %w", s.to, err)
		}
		if err := s.apply(ctx, tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration to v%d failed: %w", s.to, err)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO sync_meta (key, value) VALUES (?, ?)",
			schemaVersionKey, strconv.Itoa(s.to))
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record schema version %d: %w", s.to, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration to v%d: %w", s.to, err)
		}
		version = s.to
	}

	return nil
}

func (db *DB) schemaVersion(ctx context.Context) (int, error) {
	raw, ok, err := db.getMeta(ctx, schemaVersionKey)
	if err != nil || !ok {
		return 0, err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("corrupt schema version %q: %w", raw, err)
	}
	return v, nil
}

// migrateV1 creates the original narrow sales table with a surrogate key
// and a composite uniqueness constraint.
func migrateV1(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS sales (
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
		UNIQUE(date, app_id, package_id, country_code)
	)`)
	if err != nil {
		return err
	}
	return createSalesIndexes(ctx, tx)
}

// migrateV2 introduces multi-credential support: the credentials metadata
// table, a credential_id column on sales, and a widened uniqueness
// constraint. Pre-existing rows are tagged 'legacy'.
func migrateV2(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS credentials (
		id TEXT PRIMARY KEY,
		display_name TEXT,
		last_four TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		return err
	}

	hasColumn, err := columnExists(ctx, tx, "sales", "credential_id")
	if err != nil {
		return err
	}
	if hasColumn {
		return nil
	}

	stmts := []string{
		`ALTER TABLE sales ADD COLUMN credential_id TEXT NOT NULL DEFAULT 'legacy'`,
		`CREATE TABLE IF NOT EXISTS sales_new (
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
			UNIQUE(date, app_id, package_id, country_code, credential_id)
		)`,
		`INSERT INTO sales_new (id, date, app_id, app_name, package_id, country_code,
			units_sold, gross_revenue, net_revenue, currency, credential_id)
		 SELECT id, date, app_id, app_name, package_id, country_code,
			units_sold, gross_revenue, net_revenue, currency, credential_id
		 FROM sales`,
		`DROP TABLE sales`,
		`ALTER TABLE sales_new RENAME TO sales`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	if err := createSalesIndexes(ctx, tx); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_sales_credential_id ON sales(credential_id)`)
	return err
}

// migrateV3 widens the table to the full fact shape and replaces the
// surrogate key with the content-address identity key. Rows that predate
// identity keys get a lossy five-column synthesis
// (date|app|package|country|credential) — a one-time backward-compat shim,
// never recomputed for new data. A table that already carries the wide
// shape is left alone, so a re-run never re-synthesizes keys over
// full-width rows.
//
// It also creates the sync task queue.
func migrateV3(ctx context.Context, tx *sql.Tx) error {
	wide, err := columnExists(ctx, tx, "sales", "line_item_type")
	if err != nil {
		return err
	}

	if !wide {
		stmts := []string{
			`CREATE TABLE IF NOT EXISTS sales_v3 (
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
				partner_id INTEGER,
				primary_app_id INTEGER,
				bundle_id INTEGER,
				item_app_id INTEGER,
				game_item_id INTEGER,
				platform TEXT,
				base_price TEXT,
				sale_price TEXT,
				avg_sale_price_usd TEXT,
				package_sale_type TEXT,
				gross_units_sold INTEGER,
				gross_units_returned INTEGER,
				gross_units_activated INTEGER,
				net_units_sold INTEGER,
				gross_sales_usd REAL,
				gross_returns_usd REAL,
				net_sales_usd REAL,
				net_tax_usd REAL,
				combined_discount_id INTEGER,
				total_discount_percentage REAL,
				additional_revenue_share_tier INTEGER,
				key_request_id INTEGER,
				viw_grant_partner_id INTEGER,
				package_name TEXT,
				bundle_name TEXT,
				partner_name TEXT,
				country_name TEXT,
				region TEXT
			)`,
			`INSERT INTO sales_v3 (id, date, app_id, app_name, package_id, country_code,
				units_sold, gross_revenue, net_revenue, currency, credential_id)
			 SELECT
				date || '|' || app_id || '|' || package_id || '|' || country_code
					 || '|' || COALESCE(credential_id, 'legacy') AS id,
				date, app_id, app_name, package_id, country_code,
				units_sold, gross_revenue, net_revenue, currency,
				COALESCE(credential_id, 'legacy')
			 FROM sales`,
			`DROP TABLE sales`,
			`ALTER TABLE sales_v3 RENAME TO sales`,
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sync_tasks (
			id TEXT PRIMARY KEY,
			credential_id TEXT NOT NULL,
			date TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'todo',
			created_at INTEGER NOT NULL,
			completed_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON sync_tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_credential ON sync_tasks(credential_id)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	if err := createSalesIndexes(ctx, tx); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_sales_credential_id ON sales(credential_id)`)
	return err
}

// createSalesIndexes recreates the indexes shared by every schema version.
// The credential index is added separately where the column exists.
func createSalesIndexes(ctx context.Context, tx *sql.Tx) error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_sales_date ON sales(date)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_app_id ON sales(app_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_country ON sales(country_code)`,
	}
	for _, stmt := range indexes {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// columnExists checks PRAGMA table_info for a column, guarding migrations
// that re-run against an already-transformed table.
func columnExists(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			dfltValue  any
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dfltValue, &primaryKey); err != nil {
			return false, fmt.Errorf("failed to scan table info: %w", err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
