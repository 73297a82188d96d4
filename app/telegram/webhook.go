package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	e "nuclight.org/batch-share-bot/pkg/entities"
	"nuclight.org/batch-share-bot/pkg/logger"
)

const (
	DefaultWebhookPath = "/webhook"

	secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"
	maxUpdateSize     = 1 << 20
)

// EventHandler handles an inbound event and returns the reply to put into
// the webhook response. The reply has to be considered even if the error is
// not nil.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev e.Event) (*e.Reply, error)
}

// Webhook serves Telegram webhook calls on Path and a static health response
// on every other path.
type Webhook struct {
	Log     logger.Logger
	Handler EventHandler

	// Path of the webhook endpoint, DefaultWebhookPath when empty
	Path string

	// Secret, when set, must match the secret token header of every call
	Secret string

	// Timeout bounds the handling of one update, 0 means no limit
	Timeout time.Duration
}

func (w *Webhook) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.URL.Path != w.path() {
		w.serveHealth(rw)
		return
	}

	if r.Method != http.MethodPost {
		rw.Header().Set("Allow", http.MethodPost)
		http.Error(rw, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	if w.Secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(secretTokenHeader)), []byte(w.Secret)) != 1 {
		w.Log.Warn("webhook call with wrong secret token", "remote_addr", r.RemoteAddr)
		http.Error(rw, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	requestID := uuid.NewString()
	log := w.Log.With("request_id", requestID)

	var update tgbotapi.Update
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUpdateSize)).Decode(&update); err != nil {
		log.Warn("decoding update", "error", err)
		writeOK(rw)
		return
	}

	log = log.With("tg_update_id", update.UpdateID)

	ctx := r.Context()
	if w.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Timeout)
		defer cancel()
	}

	hub := sentry.CurrentHub().Clone()
	hub.Scope().SetTag("request_id", requestID)
	hub.Scope().SetTag("tg_update_id", fmt.Sprint(update.UpdateID))

	defer func() {
		if p := recover(); p != nil {
			log.Error("panic", "error", p)
			hub.RecoverWithContext(ctx, p)
			http.Error(rw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	}()

	ev := ParseUpdate(update)
	log.Info("update received", "kind", ev.Kind, "chat_id", ev.ChatID, "tg_message_id", ev.MessageID)

	reply, err := w.Handler.HandleEvent(ctx, ev)
	status := http.StatusOK
	if err != nil {
		log.Error("handling event", "kind", ev.Kind, "chat_id", ev.ChatID, "error", err)
		hub.CaptureException(err)
		status = http.StatusInternalServerError
	}

	if reply == nil {
		if status != http.StatusOK {
			http.Error(rw, http.StatusText(status), status)
			return
		}
		writeOK(rw)
		return
	}

	writeReply(rw, log, status, reply)
}

func (w *Webhook) path() string {
	if w.Path == "" {
		return DefaultWebhookPath
	}
	return w.Path
}

func (w *Webhook) serveHealth(rw http.ResponseWriter) {
	rw.Header().Set("Content-Type", "text/html")
	rw.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(rw, "ok")
}

func writeOK(rw http.ResponseWriter) {
	rw.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	rw.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(rw, "OK")
}

func writeReply(rw http.ResponseWriter, log logger.Logger, status int, reply *e.Reply) {
	body, err := json.Marshal(reply)
	if err != nil {
		log.Error("marshaling reply", "error", err)
		http.Error(rw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Content-Type", "application/json; charset=UTF-8")
	rw.WriteHeader(status)
	if _, err = rw.Write(body); err != nil {
		log.Warn("writing reply", "error", err)
	}
}
