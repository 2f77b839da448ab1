package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	debugTag   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#C678DD")).Render("DEBUG")
	infoTag    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF")).Render("INFO")
	successTag = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#98C379")).Render("SUCCESS")
	warnTag    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E5C07B")).Render("WARN")
	errorTag   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E06C75")).Render("ERROR")
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#636B78"))
)

// prefixKeys are rendered as a bracketed prefix instead of key=value pairs.
var prefixKeys = []string{"account", "address", "ip"}

// ConsoleHandler renders one human readable line per record with a coloured
// severity tag, e.g. `12:00:01 SUCCESS [3][0xabc..][1.2.3.4] checked in`.
type ConsoleHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

// NewConsoleHandler creates a console handler writing to w.
func NewConsoleHandler(w io.Writer, level slog.Leveler) *ConsoleHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &ConsoleHandler{mu: &sync.Mutex{}, w: w, level: level}
}

// Enabled implements slog.Handler.
func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	attrs = append(attrs, h.attrs...)
	prefix := strings.Join(h.groups, ".")
	r.Attrs(func(a slog.Attr) bool {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		attrs = append(attrs, a)
		return true
	})

	var b strings.Builder
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	b.WriteString(mutedStyle.Render(ts.Format("15:04:05")))
	b.WriteByte(' ')
	b.WriteString(levelTag(r.Level))
	b.WriteByte(' ')

	rest := attrs[:0:0]
	found := make(map[string]string, len(prefixKeys))
	for _, a := range attrs {
		if isPrefixKey(a.Key) {
			found[a.Key] = a.Value.String()
			continue
		}
		rest = append(rest, a)
	}
	for _, key := range prefixKeys {
		if v, ok := found[key]; ok {
			b.WriteString("[" + v + "]")
		}
	}
	if len(found) > 0 {
		b.WriteByte(' ')
	}

	b.WriteString(r.Message)
	for _, a := range rest {
		if a.Equal(slog.Attr{}) {
			continue
		}
		b.WriteByte(' ')
		b.WriteString(mutedStyle.Render(a.Key + "="))
		b.WriteString(formatValue(a.Value))
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

// WithAttrs implements slog.Handler.
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	prefix := strings.Join(h.groups, ".")
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	if prefix != "" {
		for i := len(h.attrs); i < len(clone.attrs); i++ {
			clone.attrs[i].Key = prefix + "." + clone.attrs[i].Key
		}
	}
	return &clone
}

// WithGroup implements slog.Handler.
func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

func levelTag(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return debugTag
	case level < LevelSuccess:
		return infoTag
	case level < slog.LevelWarn:
		return successTag
	case level < slog.LevelError:
		return warnTag
	default:
		return errorTag
	}
}

func isPrefixKey(key string) bool {
	for _, k := range prefixKeys {
		if k == key {
			return true
		}
	}
	return false
}

func formatValue(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		s := v.String()
		if strings.ContainsAny(s, " \t\"") {
			return fmt.Sprintf("%q", s)
		}
		return s
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	default:
		return v.String()
	}
}
