package channel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mmcdole/marquee/internal/domain"
	"github.com/mmcdole/marquee/internal/metrics"
)

// SessionInfo is a point-in-time view of a session
type SessionInfo struct {
	Topic        string
	URL          string
	State        State
	NextDelay    time.Duration
	TimerPending bool
}

// Session keeps one topic connected. All of its state is guarded by mu and
// only touched from its own dial, read and timer callbacks.
type Session struct {
	topic     string
	url       string
	dialer    Dialer
	scheduler Scheduler
	sink      domain.EventSink
	metrics   *metrics.Metrics
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	backoff Backoff
	conn    Conn
	timer   Timer
	gen     int
}

func newSession(topic, url string, m *Manager) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		topic:     topic,
		url:       url,
		dialer:    m.dialer,
		scheduler: m.scheduler,
		sink:      m.sink,
		metrics:   m.metrics,
		logger:    m.logger.With("topic", topic),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Topic returns the topic key
func (s *Session) Topic() string {
	return s.topic
}

// Info returns a snapshot of the session
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		Topic:        s.topic,
		URL:          s.url,
		State:        s.state,
		NextDelay:    s.backoff.Current(),
		TimerPending: s.timer != nil,
	}
}

func (s *Session) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fire(EventDial, nil)
}

// stop tears the session down synchronously. Pending timers are cancelled and
// the live connection, if any, is closed before stop returns.
func (s *Session) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fire(EventStop, nil)
}

// fire applies e and performs the resulting effect. Caller holds mu.
func (s *Session) fire(e Event, cause error) {
	prev := s.state
	next, effect := Next(s.state, e)
	s.state = next

	switch effect {
	case EffectConnect:
		s.gen++
		go s.connect(s.gen)

	case EffectScheduleReconnect:
		if prev == StateOpen {
			s.metrics.SessionClosed()
		}
		s.closeConn()
		s.emitStatus(next, cause)
		s.scheduleReconnect()

	case EffectTeardown:
		s.cancel()
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		if prev == StateOpen {
			s.metrics.SessionClosed()
		}
		s.closeConn()
	}
}

// scheduleReconnect arms the reconnect timer unless one is already pending.
// Caller holds mu.
func (s *Session) scheduleReconnect() {
	if s.timer != nil {
		return
	}
	delay := s.backoff.Advance()
	gen := s.gen
	s.timer = s.scheduler.AfterFunc(delay, func() { s.onTimer(gen) })
	s.metrics.ReconnectScheduled(s.topic)
	s.logger.Debug("reconnect scheduled", "delay", delay)
	s.state, _ = Next(s.state, EventScheduled)
}

func (s *Session) onTimer(gen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state == StateStopped {
		return
	}
	s.timer = nil
	s.fire(EventTimerFired, nil)
}

func (s *Session) connect(gen int) {
	conn, err := s.dialer.Dial(s.ctx, s.url)

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.state != StateConnecting {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		s.logger.Warn("channel connect failed", "url", s.url, "error", err)
		s.fire(EventFailed, err)
		return
	}

	s.conn = conn
	s.backoff.Reset()
	s.fire(EventOpened, nil)
	s.metrics.SessionOpened()
	s.logger.Info("channel open", "url", s.url)
	s.emitStatus(StateOpen, nil)

	go s.readLoop(gen, conn)
}

func (s *Session) readLoop(gen int, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			if gen == s.gen && s.conn == conn {
				if errors.Is(err, ErrConnClosed) {
					s.logger.Info("channel closed", "error", err)
					s.fire(EventClosed, nil)
				} else {
					s.logger.Warn("channel error", "error", err)
					s.fire(EventFailed, err)
				}
			}
			s.mu.Unlock()
			return
		}

		s.mu.Lock()
		live := gen == s.gen && s.conn == conn
		s.mu.Unlock()
		if !live {
			return
		}
		s.deliver(data)
	}
}

// deliver decodes one payload. Malformed payloads are dropped and the session stays open.
func (s *Session) deliver(data []byte) {
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		s.logger.Warn("dropping malformed payload", "error", err, "bytes", len(data))
		s.metrics.MessageDropped(s.topic)
		return
	}
	s.sink.OnChannelEvent(domain.ChannelEvent{
		Type:    domain.ChannelEventData,
		TopicID: s.eventTopic(),
		Data:    payload,
		Raw:     string(data),
	})
}

func (s *Session) closeConn() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func (s *Session) emitStatus(state State, cause error) {
	ev := domain.ChannelEvent{Type: domain.ChannelEventStatus, TopicID: s.eventTopic()}
	switch state {
	case StateOpen:
		ev.Status = domain.ChannelStatusOpen
	case StateErrored:
		ev.Status = domain.ChannelStatusError
	default:
		ev.Status = domain.ChannelStatusClosed
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	s.sink.OnChannelEvent(ev)
}

func (s *Session) eventTopic() string {
	if s.topic == domain.AggregateTopic {
		return ""
	}
	return s.topic
}
