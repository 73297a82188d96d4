package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jessevdk/go-flags"
	"golang.org/x/sync/errgroup"
	"nuclight.org/batch-share-bot/app/services"
	"nuclight.org/batch-share-bot/app/storage"
	"nuclight.org/batch-share-bot/app/telegram"
	e "nuclight.org/batch-share-bot/pkg/entities"
	"nuclight.org/batch-share-bot/pkg/logger"
)

var opts struct {
	DBDriver    string        `long:"db-driver" env:"DB_DRIVER" default:"sqlite3" choice:"sqlite3" choice:"pgx" description:"database driver"`
	DBPath      string        `long:"db-path" env:"DB_PATH" required:"true" description:"sqlite file path or postgres dsn"`
	TelegramKey string        `long:"tg-key" env:"TELEGRAM_API_TOKEN" required:"true" description:"telegram bot api key"`
	BatchID     string        `long:"batch-id" env:"BATCH_ID" required:"true" description:"batch to export"`
	OutputDir   string        `long:"output" env:"OUTPUT_DIR" default:"./files" description:"output directory for downloaded files"`
	Workers     int           `long:"workers" env:"DOWNLOAD_WORKERS_NUM" default:"5" description:"number of concurrent download workers"`
	Timeout     time.Duration `long:"timeout" env:"REQUEST_TIMEOUT" default:"60s" description:"time limit for one bot api request"`
}

var (
	downloaded atomic.Int64
	skipped    atomic.Int64
	failed     atomic.Int64
)

type downloadTask struct {
	position int
	file     e.FileRecord
}

func main() {
	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	log := logger.NewLogger().With("batch_id", opts.BatchID)
	log.Info("starting download")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		log.Error("creating output directory", "error", err)
		os.Exit(1)
	}

	db, err := storage.Open(ctx, opts.DBDriver, opts.DBPath)
	if err != nil {
		log.Error("opening database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("closing database", "error", err)
		}
	}()

	downloader, err := newMediaDownloader(opts.TelegramKey, opts.Timeout)
	if err != nil {
		log.Error("creating media downloader", "error", err)
		os.Exit(1)
	}

	batches := &services.BatchSrv{Log: log, Store: db}
	files := &services.FileSrv{Log: log, Store: db}

	ids, err := batches.Manifest(ctx, opts.BatchID)
	if err != nil {
		log.Error("getting batch manifest", "error", err)
		os.Exit(1)
	}

	records, err := files.Resolve(ctx, ids)
	if err != nil {
		log.Error("resolving batch files", "error", err)
		os.Exit(1)
	}

	log.Info("files to download", "count", len(records), "manifest", len(ids))

	if len(records) == 0 {
		log.Info("no files to download")
		return
	}

	taskChan := make(chan downloadTask, len(records))
	for i, f := range records {
		taskChan <- downloadTask{position: i + 1, file: f}
	}
	close(taskChan)

	g, gctx := errgroup.WithContext(ctx)
	for range max(opts.Workers, 1) {
		g.Go(func() error {
			for task := range taskChan {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				download(gctx, log, downloader, task)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Warn("download interrupted", "error", err)
	}

	log.Info("done",
		"downloaded", downloaded.Load(),
		"skipped", skipped.Load(),
		"failed", failed.Load(),
	)
}

func download(ctx context.Context, log logger.Logger, d *mediaDownloader, task downloadTask) {
	f := task.file
	log = log.With("file_unique_id", f.FileUniqueID)

	if f.FileID == "" {
		log.Warn("file record without file id")
		failed.Add(1)
		return
	}

	path := filepath.Join(opts.OutputDir, fileName(task))

	if _, err := os.Stat(path); err == nil {
		skipped.Add(1)
		return
	}

	content, err := d.DownloadFile(ctx, f.FileID)
	if err != nil {
		log.Error("downloading file", "error", err)
		failed.Add(1)
		return
	}

	if err := os.WriteFile(path, content, 0644); err != nil {
		log.Error("writing file", "error", err, "path", path)
		failed.Add(1)
		return
	}

	n := downloaded.Add(1)
	if n%10 == 0 {
		log.Debug("progress", "downloaded", n)
	}
}

// fileName prefixes the original name with the manifest position so the
// export keeps upload order.
func fileName(task downloadTask) string {
	name := filepath.Base(task.file.FileName)
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = task.file.FileUniqueID + getExtension(task.file.MimeType)
	}
	return fmt.Sprintf("%02d_%s", task.position, name)
}

func getExtension(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "audio/mpeg":
		return ".mp3"
	case "audio/ogg":
		return ".ogg"
	case "application/pdf":
		return ".pdf"
	default:
		return ""
	}
}

type mediaDownloader struct {
	bot    *tgbotapi.BotAPI
	client *http.Client
}

func newMediaDownloader(token string, timeout time.Duration) (*mediaDownloader, error) {
	bot, err := telegram.NewBotAPI(token, timeout)
	if err != nil {
		return nil, err
	}
	return &mediaDownloader{bot: bot, client: &http.Client{Timeout: timeout}}, nil
}

func (d *mediaDownloader) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := d.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("getting file: %w", err)
	}

	fileURL := file.Link(d.bot.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading file: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	return content, nil
}
