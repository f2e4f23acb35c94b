package channel

import (
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/mmcdole/marquee/internal/domain"
	"github.com/mmcdole/marquee/internal/metrics"
)

// TopicRoot is the path segment under which subjects are published
const TopicRoot = "clinic/topic"

// TopicURL returns <origin>/clinic/topic/<subject>[/<sub>]
func TopicURL(origin, subjectID, subTopicID string) string {
	u := strings.TrimRight(origin, "/") + "/" + TopicRoot + "/" + url.PathEscape(subjectID)
	if subTopicID != "" {
		u += "/" + url.PathEscape(subTopicID)
	}
	return u
}

// Option configures a Manager
type Option func(*Manager)

// WithScheduler replaces the wall-clock reconnect scheduler
func WithScheduler(s Scheduler) Option {
	return func(m *Manager) { m.scheduler = s }
}

// WithMetrics records session metrics
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Manager owns one reconnecting session per topic key.
type Manager struct {
	dialer    Dialer
	scheduler Scheduler
	sink      domain.EventSink
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu       sync.Mutex
	cfg      domain.ChannelConfig
	sessions map[string]*Session
}

// NewManager creates a manager. A nil sink discards events.
func NewManager(dialer Dialer, sink domain.EventSink, opts ...Option) *Manager {
	if sink == nil {
		sink = domain.NoOpSink{}
	}
	m := &Manager{
		dialer:    dialer,
		scheduler: clockScheduler{},
		sink:      sink,
		logger:    slog.Default(),
		sessions:  make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Apply replaces the active configuration. A configuration without subject or
// origin stops every session. An equivalent configuration while sessions are
// active is a no-op. Anything else tears down all sessions before opening the
// aggregate topic and one session per sub-topic.
func (m *Manager) Apply(cfg domain.ChannelConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !cfg.Enabled() {
		if len(m.sessions) > 0 {
			m.logger.Info("realtime channels disabled")
		}
		m.stopLocked()
		m.cfg = domain.ChannelConfig{}
		return
	}
	if len(m.sessions) > 0 && cfg.Equal(m.cfg) {
		return
	}

	m.stopLocked()
	m.cfg = domain.ChannelConfig{
		SubjectID:   cfg.SubjectID,
		Origin:      cfg.Origin,
		SubTopicIDs: append([]string(nil), cfg.SubTopicIDs...),
	}

	m.sessions[domain.AggregateTopic] = newSession(domain.AggregateTopic, TopicURL(cfg.Origin, cfg.SubjectID, ""), m)
	for _, id := range cfg.SubTopicIDs {
		if id == "" || id == domain.AggregateTopic {
			continue
		}
		if _, dup := m.sessions[id]; dup {
			continue
		}
		m.sessions[id] = newSession(id, TopicURL(cfg.Origin, cfg.SubjectID, id), m)
	}

	m.logger.Info("realtime channels configured", "subject", cfg.SubjectID, "sessions", len(m.sessions))
	for _, s := range m.sessions {
		s.start()
	}
}

// Stop synchronously cancels every pending reconnect and closes every live connection
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
	m.cfg = domain.ChannelConfig{}
}

func (m *Manager) stopLocked() {
	for key, s := range m.sessions {
		s.stop()
		delete(m.sessions, key)
	}
}

// Config returns the active configuration
func (m *Manager) Config() domain.ChannelConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Session returns the session for a topic key
func (m *Manager) Session(topic string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[topic]
	return s, ok
}

// Sessions returns snapshots of all sessions ordered by topic
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.Unlock()

	infos := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Topic < infos[j].Topic })
	return infos
}
