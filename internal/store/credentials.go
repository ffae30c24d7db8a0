package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ledgerhound/ledgerhound/internal/ledger"
)

// AddCredential records credential metadata. The secret never touches the
// store; it lives in the vault under the same id.
func (db *DB) AddCredential(ctx context.Context, cred ledger.Credential) error {
	if cred.ID == "" {
		return fmt.Errorf("credential id is required")
	}
	if cred.CreatedAt == 0 {
		cred.CreatedAt = ledger.NowMillis()
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO credentials (id, display_name, last_four, created_at)
		VALUES (?, ?, ?, ?)`,
		cred.ID, cred.DisplayName, cred.LastFour, cred.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add credential: %w", err)
	}
	return nil
}

// Credentials lists registered credentials, newest first.
func (db *DB) Credentials(ctx context.Context) ([]ledger.Credential, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, COALESCE(display_name, ''), last_four, created_at
		FROM credentials ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", err)
	}
	defer rows.Close()

	var creds []ledger.Credential
	for rows.Next() {
		var c ledger.Credential
		if err := rows.Scan(&c.ID, &c.DisplayName, &c.LastFour, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		creds = append(creds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating credentials: %w", err)
	}
	return creds, nil
}

// GetCredential returns one credential's metadata.
func (db *DB) GetCredential(ctx context.Context, id string) (*ledger.Credential, error) {
	var c ledger.Credential
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, COALESCE(display_name, ''), last_four, created_at
		FROM credentials WHERE id = ?`, id).
		Scan(&c.ID, &c.DisplayName, &c.LastFour, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("credential not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}
	return &c, nil
}

// RenameCredential updates the display name only. Identity, fingerprint,
// and all fact/task rows keep the same credential id.
func (db *DB) RenameCredential(ctx context.Context, id, displayName string) error {
	res, err := db.conn.ExecContext(ctx,
		"UPDATE credentials SET display_name = ? WHERE id = ?", displayName, id)
	if err != nil {
		return fmt.Errorf("failed to rename credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("credential not found: %s", id)
	}
	return nil
}

// DeleteCredential removes the metadata row. Facts, tasks, and the
// watermark are cleaned separately via ClearCredential, which callers run
// first so a failure never leaves data referencing a vanished credential.
func (db *DB) DeleteCredential(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx,
		"DELETE FROM credentials WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}
