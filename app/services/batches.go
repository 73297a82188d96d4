package services

import (
	"context"
	"errors"
	"fmt"

	"nuclight.org/batch-share-bot/app/storage"
	e "nuclight.org/batch-share-bot/pkg/entities"
	"nuclight.org/batch-share-bot/pkg/logger"
	"nuclight.org/batch-share-bot/pkg/mutex"
	"nuclight.org/batch-share-bot/pkg/shortid"
)

// DefaultCreateAttempts is how many identifiers CreateBatch tries before
// giving up
const DefaultCreateAttempts = 5

var (
	ErrBatchCreationExhausted = errors.New("failed to generate a unique batch ID after multiple attempts")
	ErrActiveBatchExists      = errors.New("user already has an active batch")
	ErrBatchNotFound          = errors.New("batch not found")
	ErrBatchFull              = errors.New("batch is full")
)

// BatchSrv manages batches: at most one open batch per user, up to
// BatchCapacity files each. Creation is serialized per user and appends per
// batch within the process, the store enforces the same rules across
// processes.
type BatchSrv struct {
	// Log is a logger
	Log logger.Logger

	// Store is a store for batches and their manifests
	Store BatchStore

	// NewID generates batch identifiers, shortid.New when nil
	NewID func() string

	// CreateAttempts bounds identifier collisions, DefaultCreateAttempts when 0
	CreateAttempts int

	userLocks  mutex.KeyedMutex
	batchLocks mutex.KeyedMutex
}

type BatchStore interface {
	ActiveBatch(ctx context.Context, userID int64) (string, error)
	BatchIDExists(ctx context.Context, batchID string) (bool, error)
	InsertBatch(ctx context.Context, batchID string, userID int64) error
	AppendFile(ctx context.Context, batchID, fileUniqueID string) error
	ListBatches(ctx context.Context, userID int64) ([]e.Batch, error)
	Manifest(ctx context.Context, batchID string) ([]string, error)
}

// ActiveBatch returns the batch the user uploads into. ok is false when all
// batches of the user are full or the user has none.
func (s *BatchSrv) ActiveBatch(ctx context.Context, userID int64) (batchID string, ok bool, err error) {
	batchID, err = s.Store.ActiveBatch(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", false, nil
		}

		return "", false, fmt.Errorf("getting active batch: %w", err)
	}

	return batchID, true, nil
}

// CreateBatch opens a new batch for the user. Colliding identifiers are
// retried silently, after CreateAttempts collisions ErrBatchCreationExhausted
// is returned and nothing is inserted. ErrActiveBatchExists is returned when
// the user still has an open batch.
func (s *BatchSrv) CreateBatch(ctx context.Context, userID int64) (string, error) {
	key := fmt.Sprint(userID)
	s.userLocks.Lock(key)
	defer s.userLocks.Unlock(key)

	log := s.Log.With("user_id", userID)

	for attempt := 1; attempt <= s.attempts(); attempt++ {
		batchID := s.newID()

		taken, err := s.Store.BatchIDExists(ctx, batchID)
		if err != nil {
			return "", fmt.Errorf("checking batch id: %w", err)
		}
		if taken {
			log.Debug("batch id collision", "batch_id", batchID, "attempt", attempt)
			continue
		}

		err = s.Store.InsertBatch(ctx, batchID, userID)
		switch {
		case err == nil:
			log.Info("batch created", "batch_id", batchID)
			return batchID, nil
		case errors.Is(err, storage.ErrBatchIDTaken):
			log.Debug("batch id collision on insert", "batch_id", batchID, "attempt", attempt)
			continue
		case errors.Is(err, storage.ErrActiveBatchExists):
			return "", ErrActiveBatchExists
		default:
			return "", fmt.Errorf("inserting batch: %w", err)
		}
	}

	log.Error("batch id attempts exhausted", "attempts", s.attempts())
	return "", ErrBatchCreationExhausted
}

// AppendFile adds the file to the end of the batch manifest.
func (s *BatchSrv) AppendFile(ctx context.Context, batchID, fileUniqueID string) error {
	s.batchLocks.Lock(batchID)
	defer s.batchLocks.Unlock(batchID)

	err := s.Store.AppendFile(ctx, batchID, fileUniqueID)
	switch {
	case err == nil:
		s.Log.Info("file added to batch", "batch_id", batchID, "file_unique_id", fileUniqueID)
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return ErrBatchNotFound
	case errors.Is(err, storage.ErrBatchFull):
		return ErrBatchFull
	default:
		return fmt.Errorf("appending file: %w", err)
	}
}

func (s *BatchSrv) ListBatches(ctx context.Context, userID int64) ([]e.Batch, error) {
	batches, err := s.Store.ListBatches(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing batches: %w", err)
	}

	return batches, nil
}

// Manifest returns the file unique ids of the batch in upload order.
func (s *BatchSrv) Manifest(ctx context.Context, batchID string) ([]string, error) {
	ids, err := s.Store.Manifest(ctx, batchID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrBatchNotFound
		}

		return nil, fmt.Errorf("getting manifest: %w", err)
	}

	return ids, nil
}

func (s *BatchSrv) attempts() int {
	if s.CreateAttempts <= 0 {
		return DefaultCreateAttempts
	}
	return s.CreateAttempts
}

func (s *BatchSrv) newID() string {
	if s.NewID == nil {
		return shortid.New()
	}
	return s.NewID()
}
