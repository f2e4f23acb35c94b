package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mmcdole/marquee/internal/domain"
	"github.com/mmcdole/marquee/internal/metrics"
)

const (
	// StagingSuffix marks files that are still being written
	StagingSuffix = ".part"

	defaultTimeout = 10 * time.Minute
	userAgent      = "Marquee/1.0"
)

// StagingPath returns the staging location for a final cache path
func StagingPath(finalPath string) string {
	return finalPath + StagingSuffix
}

// Executor performs single GET transfers into the cache.
// It knows nothing about playlists.
type Executor struct {
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// NewExecutor creates a new download executor. A nil client uses a default
// client with a generous timeout.
func NewExecutor(client *http.Client, m *metrics.Metrics, logger *slog.Logger) *Executor {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{httpClient: client, metrics: m, logger: logger}
}

// Fetch streams url into finalPath+".part" and renames it to finalPath once the
// body has been fully copied. On failure the staging file is abandoned; the
// next attempt truncates it.
func (e *Executor) Fetch(ctx context.Context, url, finalPath string) (domain.DownloadTask, error) {
	task := domain.DownloadTask{
		SourceURL:   url,
		StagingPath: StagingPath(finalPath),
		FinalPath:   finalPath,
		Status:      domain.TaskRunning,
	}

	e.metrics.DownloadStarted()
	err := e.transfer(ctx, &task)
	if err != nil {
		task.Status = domain.TaskFailed
		e.metrics.DownloadFinished(false, 0)
		e.logger.Warn("download failed", "url", url, "dest", finalPath, "error", err)
		return task, err
	}

	task.Status = domain.TaskSucceeded
	e.metrics.DownloadFinished(true, task.Bytes)
	e.logger.Debug("download complete", "url", url, "dest", finalPath, "bytes", task.Bytes)
	return task, nil
}

func (e *Executor) transfer(ctx context.Context, task *domain.DownloadTask) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.SourceURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: HTTP %d for %s", domain.ErrDownloadStatus, resp.StatusCode, task.SourceURL)
	}
	task.ContentType = resp.Header.Get("Content-Type")

	if err := os.MkdirAll(filepath.Dir(task.FinalPath), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	f, err := os.OpenFile(task.StagingPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open staging file: %w", err)
	}

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		f.Close()
		return fmt.Errorf("transfer interrupted after %d bytes: %w", n, err)
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		f.Close()
		return fmt.Errorf("short body: got %d of %d bytes", n, resp.ContentLength)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close staging file: %w", err)
	}

	if err := os.Rename(task.StagingPath, task.FinalPath); err != nil {
		return fmt.Errorf("failed to publish download: %w", err)
	}
	task.Bytes = n
	return nil
}
