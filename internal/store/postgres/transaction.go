package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// DeleteProviderCascade removes a provider and every endpoint it owns
// in a single transaction, so a crash between the two deletes can
// never leave an orphaned endpoint row.
//
// Grounded on the teacher's services/transaction.go WithTransaction
// helper and repositories/postgres/transaction.go's Begin/Commit/
// Rollback Transaction type, collapsed from a generic cross-repository
// manager into the one multi-statement write this store needs.
func (s *Store) DeleteProviderCascade(ctx context.Context, providerID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM endpoints WHERE provider_id = $1`, providerID); err != nil {
		rollback(tx)
		return fmt.Errorf("deleting endpoints for provider: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM providers WHERE id = $1`, providerID); err != nil {
		rollback(tx)
		return fmt.Errorf("deleting provider: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		_ = err
	}
}
