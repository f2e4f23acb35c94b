package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mmcdole/marquee/internal/domain"
	"github.com/mmcdole/marquee/internal/playlist"
	"github.com/mmcdole/marquee/internal/queue"
)

const (
	DefaultInterval   = 10 * time.Minute
	DefaultRetryDelay = 5 * time.Second
)

// Preparer produces a playlist for the current scenario
type Preparer interface {
	Refresh(ctx context.Context) (*playlist.Playlist, error)
}

// ChannelController applies realtime channel configurations
type ChannelController interface {
	Apply(cfg domain.ChannelConfig)
	Stop()
}

// Options configures the kiosk runtime
type Options struct {
	Interval        time.Duration // between successful refreshes
	RetryDelay      time.Duration // after a failed refresh
	ClinicAPIOrigin string
	ClinicWSOrigin  string
}

// State is the outcome of the latest refresh
type State struct {
	Playlist *playlist.Playlist
	Notices  []domain.Notice
	Channels domain.ChannelConfig
	Realtime bool
}

// Kiosk drives the refresh loop: prepare the playlist, load notices and, when
// the scenario asks for it, follow the realtime queue channels.
type Kiosk struct {
	source   domain.ScenarioSource
	preparer Preparer
	channels ChannelController
	board    *queue.Board
	opts     Options
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	onUpdate func(State)
}

// NewKiosk creates the runtime. board may be nil when no queue panel is shown.
func NewKiosk(source domain.ScenarioSource, preparer Preparer, channels ChannelController, board *queue.Board, opts Options, logger *slog.Logger) *Kiosk {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	return &Kiosk{
		source:   source,
		preparer: preparer,
		channels: channels,
		board:    board,
		opts:     opts,
		logger:   logger,
	}
}

// OnUpdate registers a callback invoked after every refresh
func (k *Kiosk) OnUpdate(fn func(State)) {
	k.mu.Lock()
	k.onUpdate = fn
	k.mu.Unlock()
}

// State returns the outcome of the latest refresh
func (k *Kiosk) State() State {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

// realtimeGate reports whether channels should be followed for a playlist
func (k *Kiosk) realtimeGate(pl *playlist.Playlist) bool {
	return pl.WaitingInfo == "Y" &&
		pl.SubjectID != "" &&
		k.opts.ClinicAPIOrigin != "" &&
		k.opts.ClinicWSOrigin != ""
}

// RefreshOnce runs one refresh. Notices and the clinic roster are fetched
// concurrently once the playlist is ready. A failed scenario fetch leaves the
// channels untouched and returns the error.
func (k *Kiosk) RefreshOnce(ctx context.Context) (State, error) {
	pl, err := k.preparer.Refresh(ctx)
	if err != nil {
		state := State{Playlist: pl, Notices: []domain.Notice{}}
		k.publish(state)
		return state, err
	}

	state := State{
		Playlist: pl,
		Notices:  []domain.Notice{},
		Realtime: k.realtimeGate(pl),
	}

	var clinics []domain.Clinic
	g, gctx := errgroup.WithContext(ctx)
	if pl.SubjectID != "" && pl.WaitingInfo != "N" {
		g.Go(func() error {
			state.Notices = k.source.FetchNotices(gctx, pl.SubjectID)
			return nil
		})
	}
	if state.Realtime {
		g.Go(func() error {
			list, err := k.source.FetchClinics(gctx, pl.SubjectID)
			if err != nil {
				// the aggregate topic still works without a roster
				k.logger.Warn("clinic roster unavailable", "subject", pl.SubjectID, "error", err)
				return nil
			}
			clinics = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return state, err
	}

	if state.Realtime {
		cfg := domain.ChannelConfig{
			SubjectID: pl.SubjectID,
			Origin:    k.opts.ClinicWSOrigin,
		}
		for _, c := range clinics {
			cfg.SubTopicIDs = append(cfg.SubTopicIDs, c.Seq)
		}
		if k.board != nil && clinics != nil {
			k.board.Seed(clinics)
		}
		state.Channels = cfg
	}
	if k.channels != nil {
		k.channels.Apply(state.Channels)
	}

	k.logger.Info("refresh complete",
		"pass", pl.PassID,
		"items", len(pl.Items),
		"notices", len(state.Notices),
		"realtime", state.Realtime,
		"subTopics", len(state.Channels.SubTopicIDs))

	k.publish(state)
	return state, nil
}

func (k *Kiosk) publish(state State) {
	k.mu.Lock()
	k.state = state
	fn := k.onUpdate
	k.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

// Run refreshes until ctx is cancelled, waiting Interval after a success and
// RetryDelay after a failure. Channels are stopped on return.
func (k *Kiosk) Run(ctx context.Context) error {
	defer func() {
		if k.channels != nil {
			k.channels.Stop()
		}
	}()

	for {
		delay := k.opts.Interval
		if _, err := k.RefreshOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil
			}
			k.logger.Warn("refresh failed, retrying", "delay", k.opts.RetryDelay, "error", err)
			delay = k.opts.RetryDelay
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
