package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jessevdk/go-flags"
	"golang.org/x/sync/errgroup"
	"nuclight.org/batch-share-bot/app/dispatcher"
	"nuclight.org/batch-share-bot/app/events"
	"nuclight.org/batch-share-bot/app/services"
	"nuclight.org/batch-share-bot/app/storage"
	"nuclight.org/batch-share-bot/app/telegram"
	"nuclight.org/batch-share-bot/pkg/logger"
)

var opts struct {
	TelegramAPIToken string        `long:"telegram-api-token" env:"TELEGRAM_API_TOKEN" required:"true" description:"telegram api token"`
	MainChannelID    string        `long:"main-channel-id" env:"MAIN_CHANNEL_ID" required:"true" description:"channel users must join, numeric id or @username"`
	ChannelName      string        `long:"channel-name" env:"CHANNEL_NAME" description:"channel name shown to non-members, main channel id when empty"`
	BotUsername      string        `long:"bot-username" env:"BOT_USERNAME" description:"bot username for deep links, taken from getMe when empty"`
	ListenAddr       string        `long:"listen-addr" env:"LISTEN_ADDR" default:":8080" description:"http listen address"`
	WebhookPath      string        `long:"webhook-path" env:"WEBHOOK_PATH" default:"/webhook" description:"path telegram posts updates to"`
	WebhookURL       string        `long:"webhook-url" env:"WEBHOOK_URL" description:"public webhook url to register at start, nothing is registered when empty"`
	WebhookSecret    string        `long:"webhook-secret" env:"WEBHOOK_SECRET" description:"secret token expected in every webhook call"`
	DBDriver         string        `long:"db-driver" env:"DB_DRIVER" default:"sqlite3" choice:"sqlite3" choice:"pgx" description:"database driver"`
	DBPath           string        `long:"db-path" env:"DB_PATH" default:"./db/batches.sqlite" description:"sqlite file path or postgres dsn"`
	RequestTimeout   time.Duration `long:"request-timeout" env:"REQUEST_TIMEOUT" default:"25s" description:"time limit for handling one update"`
	LogLevel         string        `long:"log-level" env:"LOG_LEVEL" default:"info" description:"log level: debug, info, warn or error"`
	SentryDSN        string        `long:"sentry-dsn" env:"SENTRY_DSN" description:"sentry dsn, errors are not reported when empty"`
	AMQPURL          string        `long:"amqp-url" env:"AMQP_URL" description:"rabbitmq url for domain events, events are dropped when empty"`
	AMQPExchange     string        `long:"amqp-exchange" env:"AMQP_EXCHANGE" default:"batch-share" description:"rabbitmq topic exchange"`
}

var Revision = "dev"

func main() {
	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	level, err := logger.ParseLevel(opts.LogLevel)
	if err != nil {
		logger.NewLogger().Error("parsing log level", "error", err)
		os.Exit(1)
	}

	log := logger.NewLoggerWithLevel(os.Stderr, level)
	log.Info("starting bot", "revision", Revision)

	if opts.SentryDSN != "" {
		err = sentry.Init(sentry.ClientOptions{Dsn: opts.SentryDSN, Release: Revision})
		if err != nil {
			log.Error("initializing sentry", "error", err)
			os.Exit(1)
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err = run(ctx, log); err != nil {
		log.Error("running bot", "error", err)
		sentry.CaptureException(err)
		sentry.Flush(2 * time.Second)
		os.Exit(1)
	}

	log.Info("bot stopped")
}

func run(ctx context.Context, log logger.Logger) error {
	db, err := storage.Open(ctx, opts.DBDriver, opts.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("closing database", "error", err)
		}
	}()

	bot, err := telegram.NewBotAPI(opts.TelegramAPIToken, opts.RequestTimeout)
	if err != nil {
		return err
	}

	botUsername := opts.BotUsername
	if botUsername == "" {
		botUsername = bot.Self.UserName
	}
	log.Info("authorized", "bot_username", botUsername)

	client := &telegram.Client{Log: log, API: bot}

	if opts.WebhookURL != "" {
		if err = client.SetWebhook(ctx, opts.WebhookURL, opts.WebhookSecret); err != nil {
			return err
		}
		log.Info("webhook registered", "url", opts.WebhookURL)
	}

	var publisher events.Publisher = events.Noop{}
	if opts.AMQPURL != "" {
		publisher, err = events.NewRabbitMQ(opts.AMQPURL, opts.AMQPExchange, log)
		if err != nil {
			return err
		}
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Warn("closing event publisher", "error", err)
		}
	}()

	channelName := opts.ChannelName
	if channelName == "" {
		channelName = opts.MainChannelID
	}

	handler := &dispatcher.Handler{
		Log:         log,
		Gate:        &services.Gate{Log: log, Channel: opts.MainChannelID, Lookup: client},
		Batches:     &services.BatchSrv{Log: log, Store: db},
		Files:       &services.FileSrv{Log: log, Store: db},
		Sender:      client,
		Events:      publisher,
		BotUsername: botUsername,
		ChannelName: channelName,
	}

	srv := &http.Server{
		Addr: opts.ListenAddr,
		Handler: &telegram.Webhook{
			Log:     log,
			Handler: handler,
			Path:    opts.WebhookPath,
			Secret:  opts.WebhookSecret,
			Timeout: opts.RequestTimeout,
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("listening", "addr", opts.ListenAddr, "webhook_path", opts.WebhookPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("stopping bot")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.RequestTimeout+5*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
