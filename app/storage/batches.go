package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	e "nuclight.org/batch-share-bot/pkg/entities"
)

// ActiveBatch returns the earliest created batch of the user that still has
// room for files.
func (s *Store) ActiveBatch(ctx context.Context, userID int64) (string, error) {
	var batchID string
	err := s.db.GetContext(
		ctx,
		&batchID,
		s.db.Rebind(`SELECT batch_id FROM batches WHERE user_id = ? AND file_count < ? ORDER BY id LIMIT 1`),
		userID, e.BatchCapacity,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}

		return "", fmt.Errorf("selecting active batch: %w", err)
	}

	return batchID, nil
}

func (s *Store) BatchIDExists(ctx context.Context, batchID string) (bool, error) {
	return batchIDExists(ctx, s.db, batchID)
}

// InsertBatch creates an empty batch for the user unless the user already has
// an open one (ErrActiveBatchExists). ErrBatchIDTaken is returned when
// batchID collides with an existing batch.
func (s *Store) InsertBatch(ctx context.Context, batchID string, userID int64) error {
	result, err := s.db.ExecContext(
		ctx,
		s.db.Rebind(`INSERT INTO batches (batch_id, user_id)
			SELECT CAST(? AS TEXT), CAST(? AS BIGINT)
			WHERE NOT EXISTS (
				SELECT 1 FROM batches WHERE user_id = ? AND file_count < ?
			)`),
		batchID, userID, userID, e.BatchCapacity,
	)
	if err != nil {
		if !isUniqueViolation(err) {
			return fmt.Errorf("inserting batch: %w", err)
		}

		// either the id or the open-batch index clashed
		taken, lookupErr := s.BatchIDExists(ctx, batchID)
		if lookupErr != nil {
			return fmt.Errorf("inserting batch: %w", errors.Join(err, lookupErr))
		}
		if taken {
			return ErrBatchIDTaken
		}
		return ErrActiveBatchExists
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrActiveBatchExists
	}

	return nil
}

func (s *Store) GetBatch(ctx context.Context, batchID string) (e.Batch, error) {
	var b e.Batch
	err := s.db.GetContext(
		ctx,
		&b,
		s.db.Rebind(`SELECT batch_id, user_id, file_count, created_at FROM batches WHERE batch_id = ?`),
		batchID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e.Batch{}, ErrNotFound
		}

		return e.Batch{}, fmt.Errorf("selecting batch: %w", err)
	}

	return b, nil
}

// ListBatches returns all batches of the user in creation order.
func (s *Store) ListBatches(ctx context.Context, userID int64) ([]e.Batch, error) {
	var batches []e.Batch
	err := s.db.SelectContext(
		ctx,
		&batches,
		s.db.Rebind(`SELECT batch_id, user_id, file_count, created_at FROM batches WHERE user_id = ? ORDER BY id`),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("selecting batches: %w", err)
	}

	return batches, nil
}

// AppendFile adds fileUniqueID at the end of the batch manifest and bumps the
// file counter in one transaction. ErrBatchFull is returned when the batch
// already holds BatchCapacity files.
func (s *Store) AppendFile(ctx context.Context, batchID, fileUniqueID string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var count int
		err := tx.GetContext(
			ctx,
			&count,
			tx.Rebind(`UPDATE batches SET file_count = file_count + 1
				WHERE batch_id = ? AND file_count < ?
				RETURNING file_count`),
			batchID, e.BatchCapacity,
		)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("incrementing file count: %w", err)
			}

			exists, err := batchIDExists(ctx, tx, batchID)
			if err != nil {
				return err
			}
			if !exists {
				return ErrNotFound
			}
			return ErrBatchFull
		}

		_, err = tx.ExecContext(
			ctx,
			tx.Rebind(`INSERT INTO batch_files (batch_id, position, file_unique_id) VALUES (?, ?, ?)`),
			batchID, count-1, fileUniqueID,
		)
		if err != nil {
			return fmt.Errorf("inserting manifest entry: %w", err)
		}

		return nil
	})
}

// Manifest returns the file unique ids of the batch in upload order.
func (s *Store) Manifest(ctx context.Context, batchID string) ([]string, error) {
	exists, err := s.BatchIDExists(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	var ids []string
	err = s.db.SelectContext(
		ctx,
		&ids,
		s.db.Rebind(`SELECT file_unique_id FROM batch_files WHERE batch_id = ? ORDER BY position`),
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("selecting manifest: %w", err)
	}

	return ids, nil
}

type queryer interface {
	sqlx.QueryerContext
	Rebind(query string) string
}

func batchIDExists(ctx context.Context, q queryer, batchID string) (bool, error) {
	var count int
	err := sqlx.GetContext(
		ctx,
		q,
		&count,
		q.Rebind(`SELECT COUNT(*) FROM batches WHERE batch_id = ?`),
		batchID,
	)
	if err != nil {
		return false, fmt.Errorf("counting batches: %w", err)
	}

	return count > 0, nil
}

func isUniqueViolation(err error) bool {
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrConstraint &&
			(liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
				liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	return false
}
