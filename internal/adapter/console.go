package adapter

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/mmcdole/marquee/internal/domain"
	"github.com/mmcdole/marquee/internal/playlist"
	"github.com/mmcdole/marquee/internal/queue"
)

// Color palette
var (
	Amber     = lipgloss.Color("#E5A00D")
	DimGray   = lipgloss.Color("#6B7280")
	LightGray = lipgloss.Color("#9CA3AF")
	White     = lipgloss.Color("#F9FAFB")
	Green     = lipgloss.Color("#10B981")
	Red       = lipgloss.Color("#EF4444")
	Blue      = lipgloss.Color("#3B82F6")
)

type consoleStyles struct {
	time    lipgloss.Style
	label   lipgloss.Style
	title   lipgloss.Style
	dim     lipgloss.Style
	ok      lipgloss.Style
	err     lipgloss.Style
	call    lipgloss.Style
	pending lipgloss.Style
}

func newConsoleStyles(r *lipgloss.Renderer) consoleStyles {
	return consoleStyles{
		time:    r.NewStyle().Foreground(DimGray),
		label:   r.NewStyle().Foreground(Amber).Bold(true),
		title:   r.NewStyle().Foreground(White).Bold(true),
		dim:     r.NewStyle().Foreground(LightGray),
		ok:      r.NewStyle().Foreground(Green),
		err:     r.NewStyle().Foreground(Red),
		call:    r.NewStyle().Foreground(White).Background(Amber).Padding(0, 1),
		pending: r.NewStyle().Foreground(Blue),
	}
}

// Console prints kiosk events as one line each. Lines are styled only when
// the writer is a terminal. It satisfies domain.EventSink.
type Console struct {
	mu     sync.Mutex
	w      io.Writer
	styled bool
	styles consoleStyles
	now    func() time.Time
}

// NewConsole creates a console sink writing to w
func NewConsole(w io.Writer) *Console {
	return &Console{
		w:      w,
		styled: isTerminal(w),
		styles: newConsoleStyles(lipgloss.NewRenderer(w)),
		now:    time.Now,
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (c *Console) render(s lipgloss.Style, text string) string {
	if !c.styled {
		return text
	}
	return s.Render(text)
}

func (c *Console) line(label string, parts ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stamp := c.render(c.styles.time, c.now().Format("15:04:05"))
	fmt.Fprintf(c.w, "%s %s %s\n", stamp, c.render(c.styles.label, fmt.Sprintf("%-8s", label)), strings.Join(parts, " "))
}

// OnProgress prints a download counter snapshot
func (c *Console) OnProgress(p domain.DownloadProgress) {
	state := c.render(c.styles.ok, "idle")
	if p.Active {
		state = c.render(c.styles.pending, "active")
	}
	c.line("download", fmt.Sprintf("%d/%d", p.Finished, p.Total), state)
}

// OnChannelEvent prints channel status changes. Payloads are summarized by size.
func (c *Console) OnChannelEvent(ev domain.ChannelEvent) {
	topic := ev.TopicID
	if topic == "" {
		topic = domain.AggregateTopic
	}
	switch ev.Type {
	case domain.ChannelEventStatus:
		status := c.render(c.styles.ok, ev.Status)
		if ev.Status != domain.ChannelStatusOpen {
			status = c.render(c.styles.err, ev.Status)
		}
		parts := []string{c.render(c.styles.title, topic), status}
		if ev.Error != "" {
			parts = append(parts, c.render(c.styles.dim, ev.Error))
		}
		c.line("channel", parts...)
	case domain.ChannelEventData:
		c.line("message", c.render(c.styles.title, topic), c.render(c.styles.dim, fmt.Sprintf("%d bytes", len(ev.Raw))))
	}
}

// Call prints a patient call announcement
func (c *Console) Call(call queue.Call) {
	c.line("call", c.render(c.styles.call, call.ClinicName), call.Patient.Name)
}

// Playlist prints the resolved playlist, one item per line
func (c *Console) Playlist(pl *playlist.Playlist) {
	if pl.Error != "" {
		c.line("playlist", c.render(c.styles.err, pl.Error))
		return
	}
	c.line("playlist", fmt.Sprintf("%d items", len(pl.Items)), c.render(c.styles.dim, pl.PassID))
	for i, item := range pl.Items {
		where := c.render(c.styles.ok, "cached")
		target := item.LocalPath
		if !item.FromCache() {
			where = c.render(c.styles.pending, "stream")
			target = item.StreamURL
		}
		parts := []string{
			fmt.Sprintf("%2d.", i+1),
			c.render(c.styles.title, item.Title),
			fmt.Sprintf("[%s]", item.Kind),
			where,
			c.render(c.styles.dim, target),
		}
		if item.Error != "" {
			parts = append(parts, c.render(c.styles.err, item.Error))
		}
		c.line("item", parts...)
	}
}

// Notices prints notice contents in order
func (c *Console) Notices(notices []domain.Notice) {
	for _, n := range notices {
		c.line("notice", n.Content)
	}
}
