package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"nuclight.org/batch-share-bot/app/events"
	"nuclight.org/batch-share-bot/app/services"
	e "nuclight.org/batch-share-bot/pkg/entities"
	"nuclight.org/batch-share-bot/pkg/logger"
)

const (
	cmdStart       = "/start"
	cmdBatch       = "/batch"
	cmdShowBatches = "/showbatches"
)

// Handler dispatches inbound events. Every sender has to pass the membership
// gate first. Text messages are commands: /start optionally followed by a
// batch id to receive its files, /batch to open a new batch and /showbatches
// to list the sender's batches as deep links. Documents, audio, video and
// photos are registered and appended to the sender's open batch.
type Handler struct {
	// Log is a logger
	Log logger.Logger

	// Gate decides whether the sender may use the bot
	Gate Gate

	// Batches manages batches and their manifests
	Batches Batches

	// Files is the registry of uploaded files
	Files Files

	// Sender delivers stored files back to a chat
	Sender Sender

	// Events receives domain events, nothing is published when nil
	Events events.Publisher

	// BotUsername is used to build deep links and to recognize /cmd@bot
	BotUsername string

	// ChannelName is shown to senders who are not members, e.g. @channel
	ChannelName string
}

type Gate interface {
	Check(ctx context.Context, userID int64) e.Membership
}

type Batches interface {
	ActiveBatch(ctx context.Context, userID int64) (string, bool, error)
	CreateBatch(ctx context.Context, userID int64) (string, error)
	AppendFile(ctx context.Context, batchID, fileUniqueID string) error
	ListBatches(ctx context.Context, userID int64) ([]e.Batch, error)
	Manifest(ctx context.Context, batchID string) ([]string, error)
}

type Files interface {
	Exists(ctx context.Context, userID int64, fileUniqueID string) (bool, error)
	Upsert(ctx context.Context, info e.FileInfo, userID int64) error
	Resolve(ctx context.Context, ids []string) ([]e.FileRecord, error)
}

type Sender interface {
	SendFile(ctx context.Context, chatID int64, f e.FileRecord) error
}

// HandleEvent handles one event and returns the reply for the sender, nil
// when nothing has to be answered. Returned reply has to be considered even
// if error is not nil.
func (h *Handler) HandleEvent(ctx context.Context, ev e.Event) (*e.Reply, error) {
	if ev.Kind == e.EventKindEmpty {
		return nil, nil
	}

	log := h.Log.With("chat_id", ev.ChatID, "tg_update_id", ev.UpdateID)

	if m := h.Gate.Check(ctx, ev.ChatID); m != e.MembershipMember {
		log.Info("access denied", "membership", m.String())
		return h.accessDenied(ev.ChatID), nil
	}

	switch ev.Kind {
	case e.EventKindCommand:
		return h.handleCommand(ctx, log, ev)
	case e.EventKindFile:
		return h.handleUpload(ctx, log, ev)
	default:
		log.Debug("ignoring message", "kind", ev.Kind)
		return nil, nil
	}
}

func (h *Handler) handleCommand(ctx context.Context, log logger.Logger, ev e.Event) (*e.Reply, error) {
	command, arg := h.parseCommand(ev.Text)
	log = log.With("command", command)

	switch command {
	case cmdStart:
		if arg == "" {
			return welcome(ev.ChatID), nil
		}
		log.Info("start with parameter", "batch_id", arg)
		return h.deliverBatch(ctx, log, ev.ChatID, arg)
	case cmdBatch:
		return h.createBatch(ctx, log, ev.ChatID)
	case cmdShowBatches:
		return h.showBatches(ctx, log, ev.ChatID)
	default:
		return unknownCommand(ev.ChatID), nil
	}
}

// parseCommand splits text on the first whitespace run and lower-cases the
// command, dropping a @mention of this bot.
func (h *Handler) parseCommand(text string) (command, arg string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", ""
	}

	command = strings.ToLower(fields[0])
	if at := strings.IndexByte(command, '@'); at > 0 {
		mention := command[at+1:]
		if h.BotUsername == "" || strings.EqualFold(mention, h.BotUsername) {
			command = command[:at]
		}
	}

	if len(fields) > 1 {
		arg = fields[1]
	}

	return command, arg
}

func (h *Handler) createBatch(ctx context.Context, log logger.Logger, chatID int64) (*e.Reply, error) {
	_, ok, err := h.Batches.ActiveBatch(ctx, chatID)
	if err != nil {
		return batchCreationFailed(chatID, err), fmt.Errorf("checking active batch: %w", err)
	}
	if ok {
		return batchAlreadyActive(chatID), nil
	}

	batchID, err := h.Batches.CreateBatch(ctx, chatID)
	if err != nil {
		if errors.Is(err, services.ErrActiveBatchExists) {
			return batchAlreadyActive(chatID), nil
		}

		return batchCreationFailed(chatID, err), fmt.Errorf("creating batch: %w", err)
	}

	log.Info("new batch", "batch_id", batchID)
	h.publish(ctx, log, events.KeyBatchCreated, events.BatchCreated{BatchID: batchID, UserID: chatID})

	return batchCreated(chatID, batchID), nil
}

func (h *Handler) showBatches(ctx context.Context, log logger.Logger, chatID int64) (*e.Reply, error) {
	batches, err := h.Batches.ListBatches(ctx, chatID)
	if err != nil {
		return batchListFailed(chatID, err), fmt.Errorf("listing batches: %w", err)
	}

	if len(batches) == 0 {
		return noBatches(chatID), nil
	}

	log.Debug("listing batches", "count", len(batches))
	return batchLinks(chatID, h.BotUsername, batches), nil
}

func (h *Handler) handleUpload(ctx context.Context, log logger.Logger, ev e.Event) (*e.Reply, error) {
	info := ev.File
	if info == nil {
		return nil, nil
	}
	log = log.With("file_unique_id", info.FileUniqueID, "type", info.Kind)

	batchID, ok, err := h.Batches.ActiveBatch(ctx, ev.ChatID)
	if err != nil {
		return saveFailed(ev.ChatID), fmt.Errorf("getting active batch: %w", err)
	}
	if !ok {
		return needBatch(ev.ChatID), nil
	}
	log = log.With("batch_id", batchID)

	exists, err := h.Files.Exists(ctx, ev.ChatID, info.FileUniqueID)
	if err != nil {
		return saveFailed(ev.ChatID), fmt.Errorf("checking file: %w", err)
	}
	if exists {
		log.Info("duplicate file")
		return alreadyUploaded(ev.ChatID), nil
	}

	if err = h.Files.Upsert(ctx, *info, ev.ChatID); err != nil {
		return saveFailed(ev.ChatID), fmt.Errorf("saving file: %w", err)
	}

	// the record is saved, a failed append is not reported to the sender
	if err = h.Batches.AppendFile(ctx, batchID, info.FileUniqueID); err != nil {
		log.Error("adding file to batch", "error", err)
		return saved(ev.ChatID), nil
	}

	h.publish(ctx, log, events.KeyBatchFileAdded, events.BatchFileAdded{
		BatchID:      batchID,
		UserID:       ev.ChatID,
		FileUniqueID: info.FileUniqueID,
		FileType:     string(info.Kind),
	})

	return saved(ev.ChatID), nil
}

func (h *Handler) publish(ctx context.Context, log logger.Logger, key string, data any) {
	if h.Events == nil {
		return
	}

	if err := h.Events.Publish(ctx, key, events.Envelope{Data: data}); err != nil {
		log.Warn("publishing event", "key", key, "error", err)
	}
}
