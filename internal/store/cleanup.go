package store

import (
	"context"
	"fmt"
)

// ClearCredential removes everything a credential ever synced: its facts,
// its task queue entries, and its watermark, in one transaction. Run before
// deleting the credential itself so a partial failure leaves the metadata
// pointing at data, never data pointing at nothing.
func (db *DB) ClearCredential(ctx context.Context, credentialID string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmts := []struct {
		query string
		args  []any
	}{
		{"DELETE FROM sales WHERE credential_id = ?", []any{credentialID}},
		{"DELETE FROM sync_tasks WHERE credential_id = ?", []any{credentialID}},
		{"DELETE FROM sync_meta WHERE key = ?", []any{watermarkKey(credentialID)}},
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s.query, s.args...); err != nil {
			return fmt.Errorf("failed to clear credential data: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit credential cleanup: %w", err)
	}
	return nil
}

// ClearAll empties the ledger: facts, tasks, credentials, and every
// watermark. Schema version survives so the store stays usable.
func (db *DB) ClearAll(ctx context.Context) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{
		"DELETE FROM sales",
		"DELETE FROM sync_tasks",
		"DELETE FROM credentials",
		"DELETE FROM sync_meta WHERE key LIKE 'highwatermark:%'",
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to purge store: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit purge: %w", err)
	}
	return nil
}

// RepairDuplicates deletes logical duplicates left behind by rows written
// before identity keys carried every dimension: rows sharing the full
// dimension projection but holding different primary keys. The newest
// write wins (highest rowid). Returns the number of rows removed.
func (db *DB) RepairDuplicates(ctx context.Context) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
		DELETE FROM sales WHERE rowid NOT IN (
			SELECT MAX(rowid) FROM sales
			GROUP BY date, line_item_type, country_code, credential_id,
				COALESCE(partner_id, -1), COALESCE(platform, ''),
				COALESCE(currency, ''), COALESCE(package_id, -1),
				COALESCE(bundle_id, -1), COALESCE(package_sale_type, ''),
				COALESCE(key_request_id, -1), COALESCE(base_price, ''),
				COALESCE(sale_price, ''), COALESCE(item_app_id, -1),
				COALESCE(game_item_id, -1), COALESCE(combined_discount_id, -1)
		)`)
	if err != nil {
		return 0, fmt.Errorf("failed to repair duplicates: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}
