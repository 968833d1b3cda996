package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrEntityNotFound is returned by entity store lookups for unknown IDs
var ErrEntityNotFound = errors.New("entity not found")

// Helpers shared by the typed entity stores. Every syncable table carries the
// same id, version, dirty and updated_at columns; table names are package
// constants, never caller input.

func entityDelete(ctx context.Context, db *sql.DB, table, id string) error {
	// Deleting an absent row is a no-op so replayed DELETEs stay idempotent
	_, err := db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), id)
	return err
}

func entitySetVersion(ctx context.Context, db *sql.DB, table, id string, version int64) error {
	result, err := db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET version = $1, updated_at = $2 WHERE id = $3`, table),
		version, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireEntityRow(result)
}

func entityClearDirty(ctx context.Context, db *sql.DB, table, id string) error {
	result, err := db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET dirty = 0 WHERE id = $1`, table), id)
	if err != nil {
		return err
	}
	return requireEntityRow(result)
}

// entityRekey moves a row from its provisional local ID to the
// server-assigned one after a CREATE is acknowledged
func entityRekey(ctx context.Context, db *sql.DB, table, oldID, newID string) error {
	result, err := db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET id = $1 WHERE id = $2`, table), newID, oldID)
	if err != nil {
		return err
	}
	return requireEntityRow(result)
}

func entityDeleteLocal(ctx context.Context, tx *sql.Tx, table, id string) error {
	_, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), id)
	return err
}

func requireEntityRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrEntityNotFound
	}
	return nil
}
