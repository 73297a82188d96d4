package dispatcher

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	e "nuclight.org/batch-share-bot/pkg/entities"
)

const welcomeText = "Hi there! Welcome to the Bot! 🎉\n\n" +
	"You can use the following commands:\n" +
	"/start - Start the bot\n" +
	"/batch - Create a batch for file uploads.\n" +
	"/showbatches - Show All your Batch IDs"

func textReply(chatID int64, parseMode, text string) *e.Reply {
	return &e.Reply{
		Method:                e.MethodSendMessage,
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             parseMode,
		DisableWebPagePreview: true,
	}
}

func markdown(chatID int64, format string, args ...any) *e.Reply {
	for i, a := range args {
		if s, ok := a.(string); ok {
			args[i] = tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
		}
	}
	return textReply(chatID, tgbotapi.ModeMarkdown, fmt.Sprintf(format, args...))
}

func (h *Handler) accessDenied(chatID int64) *e.Reply {
	channel := h.ChannelName
	if channel == "" {
		channel = "channel"
	}
	return markdown(chatID, "You need to join our %s to use this bot.", channel)
}

func welcome(chatID int64) *e.Reply {
	return textReply(chatID, tgbotapi.ModeMarkdown, welcomeText)
}

func unknownCommand(chatID int64) *e.Reply {
	return markdown(chatID, "Unknown command. Please use /start or /batch.")
}

func batchAlreadyActive(chatID int64) *e.Reply {
	return markdown(chatID, "You already have an active batch. Use that to upload files until it's full.")
}

func batchCreated(chatID int64, batchID string) *e.Reply {
	return markdown(chatID, "New batch created with ID: %s. You can now upload files.", batchID)
}

func batchCreationFailed(chatID int64, err error) *e.Reply {
	return markdown(chatID, "Error creating batch: %s", err.Error())
}

func noBatches(chatID int64) *e.Reply {
	return markdown(chatID, "You have no batches created yet.")
}

func batchListFailed(chatID int64, err error) *e.Reply {
	return markdown(chatID, "Error retrieving batch IDs: %s", err.Error())
}

// batchLinks lists the batches as t.me deep links opening the bot with
// /start <batch_id>.
func batchLinks(chatID int64, botUsername string, batches []e.Batch) *e.Reply {
	links := make([]string, 0, len(batches))
	for _, b := range batches {
		links = append(links, fmt.Sprintf("[%s](%s)", tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, b.ID), DeepLink(botUsername, b.ID)))
	}

	return textReply(chatID, tgbotapi.ModeMarkdownV2, "Your batch IDs:\n"+strings.Join(links, " "))
}

// DeepLink returns the link starting the bot with the batch id as parameter.
func DeepLink(botUsername, batchID string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", botUsername, batchID)
}

func needBatch(chatID int64) *e.Reply {
	return markdown(chatID, "You need to create a batch first by using /batch.")
}

func alreadyUploaded(chatID int64) *e.Reply {
	return markdown(chatID, "This file has already been uploaded.")
}

func saved(chatID int64) *e.Reply {
	return markdown(chatID, "File information saved successfully!")
}

func saveFailed(chatID int64) *e.Reply {
	return markdown(chatID, "Failed to save file information.")
}

func noFiles(chatID int64, batchID string) *e.Reply {
	return markdown(chatID, "No files found in batch ID: %s.", batchID)
}

func filesSent(chatID int64, batchID string) *e.Reply {
	return markdown(chatID, "Files from Batch ID: %s have been sent.", batchID)
}

func retrieveFailed(chatID int64, err error) *e.Reply {
	return markdown(chatID, "Error retrieving files in batch: %s", err.Error())
}
