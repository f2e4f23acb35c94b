package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/marquee/internal/adapter"
	"github.com/mmcdole/marquee/internal/domain"
	"github.com/mmcdole/marquee/internal/playlist"
	"github.com/mmcdole/marquee/internal/queue"
)

type fakePreparer struct {
	mu    sync.Mutex
	calls int
	errs  []error
	pl    playlist.Playlist
}

func (f *fakePreparer) Refresh(context.Context) (*playlist.Playlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return &playlist.Playlist{Error: err.Error()}, err
		}
	}
	pl := f.pl
	return &pl, nil
}

func (f *fakePreparer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSource struct {
	notices    []domain.Notice
	clinics    []domain.Clinic
	clinicErr  error
	noticeHits int
	clinicHits int
	mu         sync.Mutex
}

func (f *fakeSource) FetchScenario(context.Context) (*domain.Scenario, error) {
	return nil, errors.New("not used")
}

func (f *fakeSource) FetchNotices(context.Context, string) []domain.Notice {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noticeHits++
	return f.notices
}

func (f *fakeSource) FetchClinics(context.Context, string) ([]domain.Clinic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clinicHits++
	return f.clinics, f.clinicErr
}

type fakeChannels struct {
	mu      sync.Mutex
	applied []domain.ChannelConfig
	stopped int
}

func (f *fakeChannels) Apply(cfg domain.ChannelConfig) {
	f.mu.Lock()
	f.applied = append(f.applied, cfg)
	f.mu.Unlock()
}

func (f *fakeChannels) Stop() {
	f.mu.Lock()
	f.stopped++
	f.mu.Unlock()
}

func (f *fakeChannels) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

var realtimeOpts = Options{
	ClinicAPIOrigin: "https://api.example.com",
	ClinicWSOrigin:  "wss://ws.example.com",
}

func TestRefreshFollowsRosterTopics(t *testing.T) {
	prep := &fakePreparer{pl: playlist.Playlist{PassID: "p1", WaitingInfo: "Y", SubjectID: "42"}}
	src := &fakeSource{
		notices: []domain.Notice{{ID: "n1", Content: "hello"}},
		clinics: []domain.Clinic{{Seq: "3", Name: "Room 3"}, {Seq: "5"}},
	}
	ch := &fakeChannels{}
	board := queue.NewBoard(0, adapter.NullLogger())
	k := NewKiosk(src, prep, ch, board, realtimeOpts, adapter.NullLogger())

	var updates []State
	k.OnUpdate(func(s State) { updates = append(updates, s) })

	state, err := k.RefreshOnce(context.Background())
	require.NoError(t, err)

	assert.True(t, state.Realtime)
	assert.Equal(t, []domain.Notice{{ID: "n1", Content: "hello"}}, state.Notices)
	want := domain.ChannelConfig{SubjectID: "42", Origin: "wss://ws.example.com", SubTopicIDs: []string{"3", "5"}}
	require.Len(t, ch.applied, 1)
	assert.True(t, want.Equal(ch.applied[0]))
	assert.Equal(t, []string{"3", "5"}, board.Seqs(), "roster seeds the board")
	require.Len(t, updates, 1)
	assert.Equal(t, "p1", k.State().Playlist.PassID)
}

func TestRefreshWithoutRosterKeepsAggregateTopic(t *testing.T) {
	prep := &fakePreparer{pl: playlist.Playlist{WaitingInfo: "Y", SubjectID: "42"}}
	src := &fakeSource{clinicErr: errors.New("roster down")}
	ch := &fakeChannels{}
	k := NewKiosk(src, prep, ch, nil, realtimeOpts, adapter.NullLogger())

	state, err := k.RefreshOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, state.Channels.Enabled())
	assert.Empty(t, state.Channels.SubTopicIDs)
}

func TestRealtimeGating(t *testing.T) {
	tests := []struct {
		name    string
		pl      playlist.Playlist
		opts    Options
		notices int
	}{
		{"waiting info off", playlist.Playlist{WaitingInfo: "", SubjectID: "42"}, realtimeOpts, 1},
		{"notices hidden", playlist.Playlist{WaitingInfo: "N", SubjectID: "42"}, realtimeOpts, 0},
		{"no subject", playlist.Playlist{WaitingInfo: "Y"}, realtimeOpts, 0},
		{"no ws origin", playlist.Playlist{WaitingInfo: "Y", SubjectID: "42"}, Options{ClinicAPIOrigin: "https://api.example.com"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{}
			ch := &fakeChannels{}
			k := NewKiosk(src, &fakePreparer{pl: tt.pl}, ch, nil, tt.opts, adapter.NullLogger())

			state, err := k.RefreshOnce(context.Background())
			require.NoError(t, err)
			assert.False(t, state.Realtime)
			assert.Zero(t, src.clinicHits)
			assert.Equal(t, tt.notices, src.noticeHits)
			require.Len(t, ch.applied, 1)
			assert.False(t, ch.applied[0].Enabled(), "channels are stopped")
		})
	}
}

func TestRefreshFailureLeavesChannelsAlone(t *testing.T) {
	boom := errors.New("scenario api down")
	prep := &fakePreparer{errs: []error{boom}}
	ch := &fakeChannels{}
	k := NewKiosk(&fakeSource{}, prep, ch, nil, realtimeOpts, adapter.NullLogger())

	state, err := k.RefreshOnce(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "scenario api down", state.Playlist.Error)
	assert.NotNil(t, state.Notices)
	assert.Empty(t, ch.applied)
}

func TestRunRetriesAfterFailure(t *testing.T) {
	prep := &fakePreparer{errs: []error{errors.New("down"), errors.New("down")}}
	ch := &fakeChannels{}
	k := NewKiosk(&fakeSource{}, prep, ch, nil, Options{
		Interval:   time.Hour,
		RetryDelay: 10 * time.Millisecond,
	}, adapter.NullLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()

	require.Eventually(t, func() bool { return prep.count() == 3 }, 2*time.Second, 5*time.Millisecond)
	// Success waits a full interval
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, prep.count())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 1, ch.stops())
}

func TestFanout(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	f := Fanout{a, b}
	f.OnProgress(domain.DownloadProgress{Total: 1})
	f.OnChannelEvent(domain.ChannelEvent{Type: domain.ChannelEventData})
	assert.Equal(t, 2, a.events)
	assert.Equal(t, 2, b.events)
}

type recordingSink struct{ events int }

func (r *recordingSink) OnProgress(domain.DownloadProgress) { r.events++ }
func (r *recordingSink) OnChannelEvent(domain.ChannelEvent) { r.events++ }
