package main

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/Elon-F/Discord-scraper/app/storage"
	"github.com/Elon-F/Discord-scraper/pkg/logger"
)

var opts struct {
	MongoHost string `long:"mongo-host" env:"MONGO_HOST" required:"true" description:"mongodb host"`
	MongoPort int    `long:"mongo-port" env:"MONGO_PORT" default:"27017" description:"mongodb port"`
	OutputDir string `long:"output" env:"OUTPUT_DIR" default:"./files" description:"output directory for downloaded attachments"`
	DaysBack  int    `long:"days" env:"DAYS_BACK" default:"10" description:"number of days back to look for attachments"`
	Workers   int    `long:"workers" env:"DOWNLOAD_WORKERS_NUM" default:"5" description:"number of concurrent download workers"`
}

var (
	wg         sync.WaitGroup
	downloaded int64
	skipped    int64
	failed     int64
)

func main() {
	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	log := logger.NewLogger(true)
	log.Info("starting attachment download")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		log.Error("creating output directory", "error", err)
		os.Exit(1)
	}

	db, err := storage.NewMongo(ctx, opts.MongoHost, opts.MongoPort)
	if err != nil {
		log.Error("connecting to mongodb", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(context.Background()); err != nil {
			log.Error("closing mongodb connection", "error", err)
		}
	}()

	fromDate := time.Now().Add(time.Hour * 24 * time.Duration(opts.DaysBack) * -1)
	messages, err := db.ListMessagesSince(ctx, fromDate)
	if err != nil {
		log.Error("listing messages from database", "error", err)
		os.Exit(1)
	}

	log.Info("messages loaded from database", "count", len(messages), "from", fromDate.Format(time.RFC3339))

	type downloadTask struct {
		attachmentID int64
		url          string
		fileName     string
		mimeType     string
	}

	var tasks []downloadTask
	seen := make(map[int64]struct{})

	for _, msg := range messages {
		for _, att := range msg.Attachments {
			if att.URL == "" {
				continue
			}
			if _, exists := seen[att.ID]; exists {
				continue
			}
			seen[att.ID] = struct{}{}
			tasks = append(tasks, downloadTask{
				attachmentID: att.ID,
				url:          att.URL,
				fileName:     att.FileName,
				mimeType:     att.ContentType,
			})
		}
	}

	log.Info("attachments to download", "count", len(tasks))

	if len(tasks) == 0 {
		log.Info("no attachments to download")
		return
	}

	taskChan := make(chan downloadTask, len(tasks))
	for _, task := range tasks {
		taskChan <- task
	}
	close(taskChan)

	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskChan {
				select {
				case <-ctx.Done():
					return
				default:
				}

				filename := strconv.FormatInt(task.attachmentID, 10) + getExtension(task.fileName, task.mimeType)
				filepath := filepath.Join(opts.OutputDir, filename)

				// Skip if file already exists
				if _, err := os.Stat(filepath); err == nil {
					atomic.AddInt64(&skipped, 1)
					continue
				}

				content, err := downloadAttachment(ctx, task.url)
				if err != nil {
					log.Error("downloading attachment", "error", err, "attachment_id", task.attachmentID)
					atomic.AddInt64(&failed, 1)
					continue
				}

				if err := os.WriteFile(filepath, content, 0644); err != nil {
					log.Error("writing file", "error", err, "path", filepath)
					atomic.AddInt64(&failed, 1)
					continue
				}

				n := atomic.AddInt64(&downloaded, 1)
				if n%10 == 0 {
					log.Debug("progress", "downloaded", n)
				}
			}
		}()
	}

	wg.Wait()

	log.Info("done",
		"downloaded", downloaded,
		"skipped", skipped,
		"failed", failed,
	)
}

// getExtension prefers the extension of the attachment's original file name
// and falls back to the MIME table for unnamed uploads.
func getExtension(fileName, mimeType string) string {
	if ext := filepath.Ext(fileName); ext != "" {
		return ext
	}

	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ""
	}

	return exts[0]
}

func downloadAttachment(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading attachment: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading attachment body: %w", err)
	}

	return content, nil
}
