package services

import (
	"context"
	"errors"
	"fmt"

	e "nuclight.org/batch-share-bot/pkg/entities"
	"nuclight.org/batch-share-bot/pkg/logger"
)

var ErrInvalidFile = errors.New("invalid file info")

// FileSrv is a registry of uploaded files deduplicated by their platform
// unique id.
type FileSrv struct {
	// Log is a logger
	Log logger.Logger

	// Store is a store for file records
	Store FileStore
}

type FileStore interface {
	FileExists(ctx context.Context, chatID int64, fileUniqueID string) (bool, error)
	UpsertFile(ctx context.Context, f e.FileRecord) error
	FilesByUniqueIDs(ctx context.Context, ids []string) ([]e.FileRecord, error)
}

// Exists reports whether the user already registered the file.
func (s *FileSrv) Exists(ctx context.Context, userID int64, fileUniqueID string) (bool, error) {
	ok, err := s.Store.FileExists(ctx, userID, fileUniqueID)
	if err != nil {
		return false, fmt.Errorf("checking file: %w", err)
	}

	return ok, nil
}

// Upsert stores the file for the user, replacing any record with the same
// unique id.
func (s *FileSrv) Upsert(ctx context.Context, info e.FileInfo, userID int64) error {
	if info.FileUniqueID == "" || !info.Kind.Valid() {
		return fmt.Errorf("%w: unique id %q, kind %q", ErrInvalidFile, info.FileUniqueID, info.Kind)
	}

	err := s.Store.UpsertFile(ctx, e.NewFileRecord(info, userID))
	if err != nil {
		return fmt.Errorf("saving file: %w", err)
	}

	s.Log.Info("file saved", "file_unique_id", info.FileUniqueID, "type", info.Kind, "chat_id", userID)
	return nil
}

// Resolve loads the records for a manifest keeping its order. Ids without a
// record are dropped.
func (s *FileSrv) Resolve(ctx context.Context, ids []string) ([]e.FileRecord, error) {
	records, err := s.Store.FilesByUniqueIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading files: %w", err)
	}

	byID := make(map[string]e.FileRecord, len(records))
	for _, r := range records {
		byID[r.FileUniqueID] = r
	}

	result := make([]e.FileRecord, 0, len(records))
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			s.Log.Warn("manifest entry without file record", "file_unique_id", id)
			continue
		}
		result = append(result, r)
	}

	return result, nil
}
