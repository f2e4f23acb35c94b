package playlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmcdole/marquee/internal/archive"
	"github.com/mmcdole/marquee/internal/cache"
	"github.com/mmcdole/marquee/internal/domain"
	"github.com/mmcdole/marquee/internal/download"
	"github.com/mmcdole/marquee/internal/metrics"
)

// AssetLocator yields the base URL under which the cache root is served
type AssetLocator interface {
	BaseURL() (string, error)
}

// Deps are the collaborators of a Service. Index, Metrics and Logger are optional.
type Deps struct {
	Source   domain.ScenarioSource
	Store    *cache.Store
	Janitor  *cache.Janitor
	Index    domain.Store
	Executor *download.Executor
	Expander *archive.Expander
	Pool     *download.Pool
	Assets   AssetLocator
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Result is the outcome of one resolution pass
type Result struct {
	PassID string
	Items  []domain.ResolvedItem
	Keep   []string
	Sweep  cache.SweepReport
}

// Playlist is what a refresh hands to the playback layer
type Playlist struct {
	PassID      string
	Items       []domain.ResolvedItem
	WaitingInfo string
	SubjectID   string
	Error       string
}

// Service turns scenarios into playable items while keeping the cache warm.
type Service struct {
	source   domain.ScenarioSource
	store    *cache.Store
	janitor  *cache.Janitor
	index    domain.Store
	executor *download.Executor
	expander *archive.Expander
	pool     *download.Pool
	assets   AssetLocator
	metrics  *metrics.Metrics
	logger   *slog.Logger

	progress progressTracker

	// passMu serializes resolution passes so the janitor never interleaves
	// with another pass's item resolution.
	passMu sync.Mutex

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewService creates a new asset preparer.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pool := deps.Pool
	if pool == nil {
		pool = download.NewPool(download.DefaultConcurrency)
	}
	executor := deps.Executor
	if executor == nil {
		executor = download.NewExecutor(nil, deps.Metrics, logger)
	}
	expander := deps.Expander
	if expander == nil {
		expander = archive.NewExpander(logger)
	}
	return &Service{
		source:   deps.Source,
		store:    deps.Store,
		janitor:  deps.Janitor,
		index:    deps.Index,
		executor: executor,
		expander: expander,
		pool:     pool,
		assets:   deps.Assets,
		metrics:  deps.Metrics,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// OnProgress registers the receiver of download counter snapshots
func (s *Service) OnProgress(fn domain.ProgressFunc) {
	s.progress.mu.Lock()
	s.progress.notify = fn
	s.progress.mu.Unlock()
}

// Progress returns the current download counters
func (s *Service) Progress() domain.DownloadProgress {
	return s.progress.snapshot()
}

// Refresh fetches the scenario and prepares it. When the scenario cannot be
// fetched the playlist is empty and carries the error message.
func (s *Service) Refresh(ctx context.Context) (*Playlist, error) {
	if s.source == nil {
		return &Playlist{Error: domain.ErrNotConfigured.Error()}, domain.ErrNotConfigured
	}

	scenario, err := s.source.FetchScenario(ctx)
	if err != nil {
		s.logger.Error("failed to fetch scenario", "error", err)
		s.metrics.PassFinished(false)
		return &Playlist{Error: err.Error()}, err
	}

	result, err := s.Prepare(ctx, scenario.Items)
	if err != nil {
		return &Playlist{Error: err.Error()}, err
	}

	return &Playlist{
		PassID:      result.PassID,
		Items:       result.Items,
		WaitingInfo: scenario.WaitingInfo,
		SubjectID:   scenario.SubjectID,
	}, nil
}

// Prepare resolves items in SortOrder. Cached files resolve to LocalPath; misses
// stream remotely while a background download warms the cache for the next
// pass. Archive packages are downloaded and expanded before they resolve.
// Item-level failures are annotated on the item and never abort the pass.
func (s *Service) Prepare(ctx context.Context, items []domain.ScenarioItem) (Result, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	passID := uuid.NewString()
	logger := s.logger.With("pass", passID)
	start := time.Now()

	ordered := make([]domain.ScenarioItem, len(items))
	copy(ordered, items)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SortOrder < ordered[j].SortOrder
	})

	s.progress.beginPass()
	keep := s.store.NewPass()
	resolved := make([]domain.ResolvedItem, 0, len(ordered))

	for _, item := range ordered {
		if item.SourceURL == "" {
			logger.Debug("skipping item without source", "id", item.ID, "title", item.Title)
			continue
		}
		resolved = append(resolved, s.resolve(ctx, logger, item, keep))
	}

	// Every referenced path is in keep at this point
	var report cache.SweepReport
	if s.janitor != nil {
		report = s.janitor.Sweep(keep)
	}

	s.metrics.PassFinished(true)
	logger.Info("playlist prepared",
		"items", len(resolved),
		"keep", keep.Len(),
		"downloads", s.progress.snapshot().Total,
		"duration", time.Since(start))

	return Result{
		PassID: passID,
		Items:  resolved,
		Keep:   keep.Paths(),
		Sweep:  report,
	}, nil
}

func (s *Service) resolve(ctx context.Context, logger *slog.Logger, item domain.ScenarioItem, keep *cache.KeepSet) domain.ResolvedItem {
	plan, err := Classify(item)
	if err != nil {
		logger.Warn("invalid item", "id", item.ID, "url", item.SourceURL, "error", err)
		return domain.ResolvedItem{ScenarioItem: item, Error: err.Error()}
	}

	switch plan.Strategy {
	case StrategyStream:
		item.Kind = plan.Kind
		return domain.ResolvedItem{ScenarioItem: item, StreamURL: item.SourceURL}
	case StrategyArchive:
		return s.resolveArchive(ctx, logger, item, plan, keep)
	default:
		return s.resolveFile(logger, item, plan, keep)
	}
}

func (s *Service) resolveFile(logger *slog.Logger, item domain.ScenarioItem, plan Plan, keep *cache.KeepSet) domain.ResolvedItem {
	item.Kind = plan.Kind
	dest := s.store.DestinationFor(item, plan.Ext)
	keep.Add(dest.Path)

	if s.store.Exists(dest.Path) {
		if s.index != nil {
			if err := s.index.TouchRecord(dest.Path); err != nil {
				logger.Debug("failed to touch cache record", "path", dest.Path, "error", err)
			}
		}
		return domain.ResolvedItem{ScenarioItem: item, LocalPath: dest.Path}
	}

	s.enqueue(logger, item, dest.Path)
	return domain.ResolvedItem{ScenarioItem: item, StreamURL: item.SourceURL}
}

// enqueue schedules a background download unless one for dest is already running
func (s *Service) enqueue(logger *slog.Logger, item domain.ScenarioItem, dest string) {
	s.mu.Lock()
	if _, busy := s.inflight[dest]; busy {
		s.mu.Unlock()
		logger.Debug("download already in flight", "dest", dest)
		return
	}
	s.inflight[dest] = struct{}{}
	s.mu.Unlock()

	s.progress.schedule()
	s.pool.Submit(func(ctx context.Context) {
		defer func() {
			s.mu.Lock()
			delete(s.inflight, dest)
			s.mu.Unlock()
			s.progress.finish()
		}()

		task, err := s.executor.Fetch(ctx, item.SourceURL, dest)
		if err != nil {
			logger.Warn("background download failed", "id", item.ID, "url", item.SourceURL, "error", err)
			return
		}
		s.record(logger, item, task.FinalPath, task.ContentType, task.Bytes, domain.EntryFile)
	})
}

func (s *Service) resolveArchive(ctx context.Context, logger *slog.Logger, item domain.ScenarioItem, plan Plan, keep *cache.KeepSet) domain.ResolvedItem {
	dest := s.store.DestinationFor(item, plan.Ext)
	keep.Add(dest.Path)
	keep.Add(dest.Dir)

	fallback := func(err error) domain.ResolvedItem {
		logger.Warn("package unavailable, streaming source directly", "id", item.ID, "url", item.SourceURL, "error", err)
		item.Kind = domain.MediaKindHLS
		return domain.ResolvedItem{ScenarioItem: item, StreamURL: item.SourceURL, Error: err.Error()}
	}

	manifest, err := s.expander.FindManifest(dest.Dir)
	if err != nil || !s.store.Exists(dest.Path) {
		s.progress.schedule()
		manifest, err = s.fetchPackage(ctx, item, dest)
		s.progress.finish()
		if err != nil {
			return fallback(err)
		}
	}

	streamURL, err := s.manifestURL(manifest)
	if err != nil {
		return fallback(err)
	}

	item.Kind = domain.MediaKindHLS
	return domain.ResolvedItem{ScenarioItem: item, StreamURL: streamURL, PackageDir: dest.Dir}
}

func (s *Service) fetchPackage(ctx context.Context, item domain.ScenarioItem, dest cache.Destination) (string, error) {
	task, err := s.executor.Fetch(ctx, item.SourceURL, dest.Path)
	if err != nil {
		return "", err
	}
	if err := s.expander.Expand(dest.Path, dest.Dir); err != nil {
		return "", err
	}
	s.record(s.logger, item, dest.Dir, task.ContentType, task.Bytes, domain.EntryDirectory)
	return s.expander.FindManifest(dest.Dir)
}

// manifestURL rewrites an absolute manifest path to its asset server URL
func (s *Service) manifestURL(manifest string) (string, error) {
	if s.assets == nil {
		return "", errors.New("asset server unavailable")
	}
	base, err := s.assets.BaseURL()
	if err != nil {
		return "", fmt.Errorf("asset server unavailable: %w", err)
	}
	rel, err := s.store.Rel(manifest)
	if err != nil {
		return "", err
	}
	segments := strings.Split(rel, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(segments, "/"), nil
}

func (s *Service) record(logger *slog.Logger, item domain.ScenarioItem, p, contentType string, size int64, kind domain.EntryKind) {
	if s.index == nil {
		return
	}
	if size == 0 {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			size = info.Size()
		}
	}
	rec := domain.CacheRecord{
		ItemID:      item.ID,
		Path:        p,
		SourceURL:   item.SourceURL,
		ContentType: contentType,
		Size:        size,
		Kind:        kind,
	}
	if err := s.index.SaveRecord(rec); err != nil {
		logger.Warn("failed to save cache record", "path", p, "error", err)
	}
}

// Wait blocks until every background download scheduled so far has finished
func (s *Service) Wait() {
	s.pool.Wait()
}

// Close cancels pending background downloads and waits for them to return
func (s *Service) Close() {
	s.pool.Close()
}
