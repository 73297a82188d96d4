package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	e "nuclight.org/batch-share-bot/pkg/entities"
)

// FileExists checks whether the file was already registered by the chat.
func (s *Store) FileExists(ctx context.Context, chatID int64, fileUniqueID string) (bool, error) {
	var count int
	err := s.db.GetContext(
		ctx,
		&count,
		s.db.Rebind(`SELECT COUNT(*) FROM files WHERE chat_id = ? AND file_unique_id = ?`),
		chatID, fileUniqueID,
	)
	if err != nil {
		return false, fmt.Errorf("counting files: %w", err)
	}

	return count > 0, nil
}

// UpsertFile inserts the record or overwrites every column of the existing
// one with the same file_unique_id.
func (s *Store) UpsertFile(ctx context.Context, f e.FileRecord) error {
	_, err := s.db.ExecContext(
		ctx,
		s.db.Rebind(`INSERT INTO files (file_id, file_unique_id, file_name, mime_type, chat_id, type, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(file_unique_id) DO UPDATE SET
				file_id = excluded.file_id,
				file_name = excluded.file_name,
				mime_type = excluded.mime_type,
				chat_id = excluded.chat_id,
				type = excluded.type,
				updated_at = CURRENT_TIMESTAMP`),
		f.FileID, f.FileUniqueID, f.FileName, f.MimeType, f.ChatID, string(f.Kind),
	)
	if err != nil {
		return fmt.Errorf("upserting file: %w", err)
	}

	return nil
}

// FilesByUniqueIDs loads the records for the given ids. Unknown ids are
// skipped, the order of the result is unspecified.
func (s *Store) FilesByUniqueIDs(ctx context.Context, ids []string) ([]e.FileRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(
		`SELECT file_unique_id, file_id, file_name, mime_type, chat_id, type FROM files WHERE file_unique_id IN (?)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("building files query: %w", err)
	}

	var files []e.FileRecord
	if err = s.db.SelectContext(ctx, &files, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("selecting files: %w", err)
	}

	return files, nil
}
