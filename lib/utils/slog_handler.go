package utils

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

type ColorHandler struct {
	mu    *sync.Mutex
	out   io.Writer
	level slog.Leveler
	attrs []slog.Attr
	group string
}

// NewColorHandler writes records at or above level to stderr.
func NewColorHandler(level slog.Leveler) *ColorHandler {
	return NewColorHandlerWithWriter(os.Stderr, level)
}

func NewColorHandlerWithWriter(w io.Writer, level slog.Leveler) *ColorHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &ColorHandler{mu: &sync.Mutex{}, out: w, level: level}
}

func (h *ColorHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *ColorHandler) Handle(_ context.Context, r slog.Record) error {
	var color lipgloss.Style
	switch r.Level {
	case slog.LevelDebug:
		color = Muted
	case slog.LevelWarn:
		color = Warning
	case slog.LevelError:
		color = Fail
	default:
		color = Default
	}

	msg := Gray.Render(r.Time.Format(time.TimeOnly)) + " "
	switch r.Level {
	case slog.LevelWarn:
		msg += WarningWithBackground.Render("WARNING") + " "
	case slog.LevelError:
		msg += ErrorWithBackground.Render("✗ ERROR") + " "
	}
	msg += color.Render(r.Message)

	for _, a := range h.attrs {
		msg += renderAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		msg += renderAttr(h.qualify(a))
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintln(h.out, msg)
	return err
}

func (h *ColorHandler) qualify(a slog.Attr) slog.Attr {
	if h.group != "" {
		a.Key = h.group + "." + a.Key
	}
	return a
}

func renderAttr(a slog.Attr) string {
	return " " + Muted.Render(a.Key) + "=" + fmt.Sprintf("%v", a.Value.Any())
}

func (h *ColorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = slices.Clone(h.attrs)
	for _, a := range attrs {
		c.attrs = append(c.attrs, h.qualify(a))
	}
	return &c
}

func (h *ColorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	if c.group != "" {
		name = c.group + "." + name
	}
	c.group = name
	return &c
}
