package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"nuclight.org/batch-share-bot/app/services"
	e "nuclight.org/batch-share-bot/pkg/entities"
	"nuclight.org/batch-share-bot/pkg/logger"
)

// deliverBatch sends every file of the batch to the chat, one message per
// file, and returns the summary reply. A file that fails to send is logged
// and skipped.
func (h *Handler) deliverBatch(ctx context.Context, log logger.Logger, chatID int64, batchID string) (*e.Reply, error) {
	log = log.With("batch_id", batchID)

	ids, err := h.Batches.Manifest(ctx, batchID)
	if err != nil {
		if errors.Is(err, services.ErrBatchNotFound) {
			return noFiles(chatID, batchID), nil
		}

		return retrieveFailed(chatID, err), fmt.Errorf("getting manifest: %w", err)
	}

	if len(ids) == 0 {
		return noFiles(chatID, batchID), nil
	}

	records, err := h.Files.Resolve(ctx, ids)
	if err != nil {
		return retrieveFailed(chatID, err), fmt.Errorf("resolving files: %w", err)
	}

	sent := 0
	for _, f := range records {
		flog := log.With("file_unique_id", f.FileUniqueID, "type", f.Kind)

		if f.FileID == "" {
			flog.Warn("file record without file id, skipping")
			continue
		}

		if err := h.Sender.SendFile(ctx, chatID, f); err != nil {
			flog.Error("sending file", "error", err)
			continue
		}

		sent++
	}

	log.Info("batch delivered", "files", len(ids), "resolved", len(records), "sent", sent)
	return filesSent(chatID, batchID), nil
}
