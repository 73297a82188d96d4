package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	e "nuclight.org/batch-share-bot/pkg/entities"
	"nuclight.org/batch-share-bot/pkg/logger"
)

// BotAPI is the part of tgbotapi.BotAPI the client relies on.
type BotAPI interface {
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

// Client performs outbound Bot API calls: membership lookups, media sends
// and webhook registration.
type Client struct {
	Log logger.Logger
	API BotAPI
}

// NewBotAPI creates a bot api whose requests are bounded by timeout.
func NewBotAPI(token string, timeout time.Duration) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("creating bot api: %w", err)
	}

	return bot, nil
}

// ChatMemberStatus returns the status (member, left, kicked, ...) of the
// user in the channel given by numeric id or @username.
func (c *Client) ChatMemberStatus(ctx context.Context, channel string, userID int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	member, err := c.API.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: chatConfigWithUser(channel, userID),
	})
	if err != nil {
		return "", fmt.Errorf("getting chat member: %w", err)
	}

	return member.Status, nil
}

// SendFile sends a stored file back to the chat with the method matching its
// type.
func (c *Client) SendFile(ctx context.Context, chatID int64, f e.FileRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	conf, err := mediaConfig(chatID, f)
	if err != nil {
		return err
	}

	if _, err = c.API.Send(conf); err != nil {
		return fmt.Errorf("sending %s: %w", f.Kind, err)
	}

	return nil
}

// SetWebhook registers url as the webhook of the bot. Telegram will put
// secret into the X-Telegram-Bot-Api-Secret-Token header of every call.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := tgbotapi.Params{"url": url}
	params.AddNonEmpty("secret_token", secret)

	if _, err := c.API.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("setting webhook: %w", err)
	}

	c.Log.Info("webhook registered", "url", url)
	return nil
}

func mediaConfig(chatID int64, f e.FileRecord) (tgbotapi.Chattable, error) {
	file := tgbotapi.FileID(f.FileID)

	switch f.Kind {
	case e.FileKindDocument:
		return tgbotapi.NewDocument(chatID, file), nil
	case e.FileKindAudio:
		return tgbotapi.NewAudio(chatID, file), nil
	case e.FileKindVideo:
		return tgbotapi.NewVideo(chatID, file), nil
	case e.FileKindPhoto:
		return tgbotapi.NewPhoto(chatID, file), nil
	default:
		return nil, fmt.Errorf("unsupported file type: %q", f.Kind)
	}
}

func chatConfigWithUser(channel string, userID int64) tgbotapi.ChatConfigWithUser {
	conf := tgbotapi.ChatConfigWithUser{UserID: userID}

	if id, err := strconv.ParseInt(channel, 10, 64); err == nil {
		conf.ChatID = id
		return conf
	}

	if !strings.HasPrefix(channel, "@") {
		channel = "@" + channel
	}
	conf.SuperGroupUsername = channel

	return conf
}
