package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mmcdole/marquee/internal/domain"
	"github.com/mmcdole/marquee/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeTimer struct {
	delay time.Duration
	f     func()

	mu      sync.Mutex
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *fakeTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *fakeTimer) Fire() { t.f() }

type fakeScheduler struct {
	armed chan *fakeTimer
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{armed: make(chan *fakeTimer, 64)}
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{delay: d, f: f}
	s.armed <- t
	return t
}

func (s *fakeScheduler) next(t *testing.T) *fakeTimer {
	t.Helper()
	select {
	case tm := <-s.armed:
		return tm
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnect timer armed")
		return nil
	}
}

func (s *fakeScheduler) assertIdle(t *testing.T) {
	t.Helper()
	select {
	case tm := <-s.armed:
		t.Fatalf("unexpected timer armed with delay %v", tm.delay)
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeConn struct {
	msgs   chan []byte
	errs   chan error
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		msgs:   make(chan []byte, 16),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case m := <-c.msgs:
		return m, nil
	case err := <-c.errs:
		return nil, err
	case <-c.closed:
		return nil, fmt.Errorf("%w: local close", ErrConnClosed)
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	mu    sync.Mutex
	fail  map[string]bool
	dials map[string]int
	conns map[string][]*fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		fail:  make(map[string]bool),
		dials: make(map[string]int),
		conns: make(map[string][]*fakeConn),
	}
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials[url]++
	if d.fail[url] {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns[url] = append(d.conns[url], c)
	return c, nil
}

func (d *fakeDialer) setFail(url string, fail bool) {
	d.mu.Lock()
	d.fail[url] = fail
	d.mu.Unlock()
}

func (d *fakeDialer) count(url string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[url]
}

func (d *fakeDialer) last(url string) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.conns[url]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.ChannelEvent
}

func (s *recordingSink) OnProgress(domain.DownloadProgress) {}

func (s *recordingSink) OnChannelEvent(ev domain.ChannelEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) data() []domain.ChannelEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ChannelEvent
	for _, ev := range s.events {
		if ev.Type == domain.ChannelEventData {
			out = append(out, ev)
		}
	}
	return out
}

func (s *recordingSink) statuses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, ev := range s.events {
		if ev.Type == domain.ChannelEventStatus {
			out = append(out, ev.TopicID+":"+ev.Status)
		}
	}
	return out
}

const origin = "ws://queue.example"

func waitState(t *testing.T, m *Manager, topic string, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, ok := m.Session(topic)
		return ok && s.Info().State == want
	}, 2*time.Second, time.Millisecond, "topic %s never reached %s", topic, want)
}

// --- tests ---

func TestNextTransitions(t *testing.T) {
	tests := []struct {
		from   State
		event  Event
		to     State
		effect Effect
	}{
		{StateIdle, EventDial, StateConnecting, EffectConnect},
		{StateConnecting, EventOpened, StateOpen, EffectNone},
		{StateConnecting, EventFailed, StateErrored, EffectScheduleReconnect},
		{StateOpen, EventClosed, StateClosed, EffectScheduleReconnect},
		{StateOpen, EventFailed, StateErrored, EffectScheduleReconnect},
		{StateErrored, EventScheduled, StateReconnectScheduled, EffectNone},
		{StateClosed, EventScheduled, StateReconnectScheduled, EffectNone},
		{StateReconnectScheduled, EventTimerFired, StateConnecting, EffectConnect},
		{StateReconnectScheduled, EventFailed, StateReconnectScheduled, EffectNone},
		{StateOpen, EventDial, StateOpen, EffectNone},
		{StateOpen, EventStop, StateStopped, EffectTeardown},
		{StateReconnectScheduled, EventStop, StateStopped, EffectTeardown},
		{StateStopped, EventDial, StateStopped, EffectNone},
		{StateStopped, EventTimerFired, StateStopped, EffectNone},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+fmt.Sprint(tt.event), func(t *testing.T) {
			to, effect := Next(tt.from, tt.event)
			assert.Equal(t, tt.to, to)
			assert.Equal(t, tt.effect, effect)
		})
	}
}

func TestBackoffSequence(t *testing.T) {
	var b Backoff
	var got []time.Duration
	for i := 0; i < 7; i++ {
		got = append(got, b.Advance())
	}
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}, got)

	b.Reset()
	assert.Equal(t, time.Second, b.Advance())
	assert.Equal(t, 2*time.Second, b.Current())
}

func TestTopicURL(t *testing.T) {
	assert.Equal(t, "ws://queue.example/clinic/topic/7", TopicURL("ws://queue.example/", "7", ""))
	assert.Equal(t, "ws://queue.example/clinic/topic/7/12", TopicURL("ws://queue.example", "7", "12"))
}

func TestReconnectDelaysDoubleAndResetOnOpen(t *testing.T) {
	dialer := newFakeDialer()
	sched := newFakeScheduler()
	m := NewManager(dialer, nil, WithScheduler(sched))
	defer m.Stop()

	url := TopicURL(origin, "7", "")
	dialer.setFail(url, true)
	m.Apply(domain.ChannelConfig{SubjectID: "7", Origin: origin})

	for _, want := range []time.Duration{1, 2, 4, 8, 16, 30, 30} {
		tm := sched.next(t)
		assert.Equal(t, want*time.Second, tm.delay)
		tm.Fire()
	}

	// The last Fire above started a failing dial; let it schedule, then succeed
	tm := sched.next(t)
	assert.Equal(t, 30*time.Second, tm.delay)
	dialer.setFail(url, false)
	tm.Fire()
	waitState(t, m, domain.AggregateTopic, StateOpen)

	dialer.last(url).errs <- errors.New("read: connection reset")
	tm = sched.next(t)
	assert.Equal(t, time.Second, tm.delay)
	waitState(t, m, domain.AggregateTopic, StateReconnectScheduled)
}

func TestSessionsAreIndependent(t *testing.T) {
	dialer := newFakeDialer()
	sched := newFakeScheduler()
	m := NewManager(dialer, nil, WithScheduler(sched))
	defer m.Stop()

	urlA := TopicURL(origin, "7", "1")
	urlB := TopicURL(origin, "7", "2")
	dialer.setFail(urlA, true)

	m.Apply(domain.ChannelConfig{SubjectID: "7", SubTopicIDs: []string{"1", "2"}, Origin: origin})
	waitState(t, m, domain.AggregateTopic, StateOpen)
	waitState(t, m, "2", StateOpen)

	first := sched.next(t)
	waitState(t, m, "1", StateReconnectScheduled)

	b, _ := m.Session("2")
	before := b.Info()

	first.Fire()
	second := sched.next(t)
	assert.Equal(t, 2*time.Second, second.delay)

	after := b.Info()
	assert.Equal(t, before, after)
	assert.Equal(t, StateOpen, after.State)
	assert.False(t, after.TimerPending)
	assert.Equal(t, 1, dialer.count(urlB))
	assert.False(t, dialer.last(urlB).isClosed())
	sched.assertIdle(t)
}

func TestOnlyOnePendingTimerPerTopic(t *testing.T) {
	dialer := newFakeDialer()
	sched := newFakeScheduler()
	m := NewManager(dialer, nil, WithScheduler(sched))
	defer m.Stop()

	dialer.setFail(TopicURL(origin, "7", ""), true)
	m.Apply(domain.ChannelConfig{SubjectID: "7", Origin: origin})
	sched.next(t)

	s, _ := m.Session(domain.AggregateTopic)
	s.mu.Lock()
	s.scheduleReconnect()
	s.fire(EventFailed, errors.New("duplicate error"))
	s.mu.Unlock()

	sched.assertIdle(t)
	assert.True(t, s.Info().TimerPending)
}

func TestApplyEquivalentConfigIsNoop(t *testing.T) {
	dialer := newFakeDialer()
	m := NewManager(dialer, nil, WithScheduler(newFakeScheduler()))
	defer m.Stop()

	subs := []string{"3"}
	m.Apply(domain.ChannelConfig{SubjectID: "7", SubTopicIDs: subs, Origin: origin})
	waitState(t, m, "3", StateOpen)
	agg, _ := m.Session(domain.AggregateTopic)

	m.Apply(domain.ChannelConfig{SubjectID: "7", SubTopicIDs: []string{"3"}, Origin: origin})
	same, _ := m.Session(domain.AggregateTopic)
	assert.Same(t, agg, same)
	assert.Equal(t, 1, dialer.count(TopicURL(origin, "7", "")))
	assert.Equal(t, 1, dialer.count(TopicURL(origin, "7", "3")))

	// Mutating the caller's slice must not leak into the applied config
	subs[0] = "99"
	assert.Equal(t, []string{"3"}, m.Config().SubTopicIDs)
}

func TestApplyChangedConfigTearsDownEverything(t *testing.T) {
	dialer := newFakeDialer()
	m := NewManager(dialer, nil, WithScheduler(newFakeScheduler()))
	defer m.Stop()

	m.Apply(domain.ChannelConfig{SubjectID: "7", SubTopicIDs: []string{"3"}, Origin: origin})
	waitState(t, m, domain.AggregateTopic, StateOpen)
	waitState(t, m, "3", StateOpen)
	oldAgg, _ := m.Session(domain.AggregateTopic)
	oldConn := dialer.last(TopicURL(origin, "7", ""))

	m.Apply(domain.ChannelConfig{SubjectID: "7", SubTopicIDs: []string{"4"}, Origin: origin})

	assert.Equal(t, StateStopped, oldAgg.Info().State)
	assert.True(t, oldConn.isClosed())
	assert.True(t, dialer.last(TopicURL(origin, "7", "3")).isClosed())

	_, ok := m.Session("3")
	assert.False(t, ok)
	waitState(t, m, "4", StateOpen)
	waitState(t, m, domain.AggregateTopic, StateOpen)
	assert.Equal(t, 2, dialer.count(TopicURL(origin, "7", "")))
}

func TestStopCancelsTimersAndConnections(t *testing.T) {
	dialer := newFakeDialer()
	sched := newFakeScheduler()
	m := NewManager(dialer, nil, WithScheduler(sched))

	failing := TopicURL(origin, "7", "1")
	dialer.setFail(failing, true)
	m.Apply(domain.ChannelConfig{SubjectID: "7", SubTopicIDs: []string{"1"}, Origin: origin})
	waitState(t, m, domain.AggregateTopic, StateOpen)
	tm := sched.next(t)

	s, _ := m.Session("1")
	m.Stop()

	assert.True(t, tm.isStopped())
	assert.True(t, dialer.last(TopicURL(origin, "7", "")).isClosed())
	assert.Equal(t, StateStopped, s.Info().State)
	assert.Empty(t, m.Sessions())

	// A timer that fires anyway is ignored
	tm.Fire()
	sched.assertIdle(t)
	assert.Equal(t, 1, dialer.count(failing))
}

func TestDisabledConfigStopsSessions(t *testing.T) {
	dialer := newFakeDialer()
	m := NewManager(dialer, nil, WithScheduler(newFakeScheduler()))

	m.Apply(domain.ChannelConfig{SubjectID: "7", Origin: origin})
	waitState(t, m, domain.AggregateTopic, StateOpen)

	m.Apply(domain.ChannelConfig{SubjectID: "7"})
	assert.Empty(t, m.Sessions())
	assert.True(t, dialer.last(TopicURL(origin, "7", "")).isClosed())
}

func TestMalformedPayloadIsDropped(t *testing.T) {
	dialer := newFakeDialer()
	sink := &recordingSink{}
	reg := prometheus.NewRegistry()
	m := NewManager(dialer, sink, WithScheduler(newFakeScheduler()), WithMetrics(metrics.MustNewMetrics(reg)))
	defer m.Stop()

	m.Apply(domain.ChannelConfig{SubjectID: "7", SubTopicIDs: []string{"5"}, Origin: origin})
	waitState(t, m, "5", StateOpen)
	waitState(t, m, domain.AggregateTopic, StateOpen)

	conn := dialer.last(TopicURL(origin, "7", "5"))
	conn.msgs <- []byte("{not json")
	conn.msgs <- []byte(`{"seq":5,"content":[]}`)

	require.Eventually(t, func() bool { return len(sink.data()) == 1 }, 2*time.Second, time.Millisecond)
	ev := sink.data()[0]
	assert.Equal(t, "5", ev.TopicID)
	assert.Equal(t, `{"seq":5,"content":[]}`, ev.Raw)
	assert.Equal(t, map[string]any{"seq": float64(5), "content": []any{}}, ev.Data)

	s, _ := m.Session("5")
	assert.Equal(t, StateOpen, s.Info().State)
	assert.Contains(t, sink.statuses(), "5:open")
	assert.Contains(t, sink.statuses(), ":open")

	expected := `
# HELP marquee_channel_messages_dropped_total Inbound payloads dropped because they could not be decoded.
# TYPE marquee_channel_messages_dropped_total counter
marquee_channel_messages_dropped_total{topic="5"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "marquee_channel_messages_dropped_total"))
}

func TestWebsocketDialerEndToEnd(t *testing.T) {
	upgrader := websocket.Upgrader{}
	paths := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"clinicSeq":"2","content":{"list":[]}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte("garbage"))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	sink := &recordingSink{}
	sched := newFakeScheduler()
	m := NewManager(NewWebsocketDialer(), sink, WithScheduler(sched))
	defer m.Stop()

	wsOrigin := "ws" + strings.TrimPrefix(srv.URL, "http")
	m.Apply(domain.ChannelConfig{SubjectID: "9", Origin: wsOrigin})

	select {
	case p := <-paths:
		assert.Equal(t, "/clinic/topic/9", p)
	case <-time.After(2 * time.Second):
		t.Fatal("server never dialed")
	}

	tm := sched.next(t)
	assert.Equal(t, time.Second, tm.delay)
	require.Len(t, sink.data(), 1)
	assert.Equal(t, "", sink.data()[0].TopicID)
	assert.Equal(t, []string{":open", ":closed"}, sink.statuses())
}
