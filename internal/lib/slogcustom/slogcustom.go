// Package slogcustom is a colored, single-line slog handler for local runs.
package slogcustom

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"strings"
	"sync"

	"github.com/fatih/color"
)

type CustomHandler struct {
	mu     *sync.Mutex
	l      *log.Logger
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
}

func NewCustomHandler(out io.Writer, level slog.Leveler) *CustomHandler {
	return &CustomHandler{
		mu:    &sync.Mutex{},
		l:     log.New(out, "", 0),
		level: level,
	}
}

func (c *CustomHandler) Handle(_ context.Context, r slog.Record) error {
	level := r.Level.String() + ":"

	switch r.Level {
	case slog.LevelDebug:
		level = color.MagentaString(level)
	case slog.LevelInfo:
		level = color.HiBlueString(level)
	case slog.LevelWarn:
		level = color.YellowString(level)
	case slog.LevelError:
		level = color.RedString(level)
	}

	var b strings.Builder
	write := func(a slog.Attr) bool {
		if a.Equal(slog.Attr{}) {
			return true
		}
		b.WriteString(color.GreenString(c.prefix + a.Key))
		b.WriteString("=")
		b.WriteString(fmt.Sprint(a.Value.Resolve().Any()))
		b.WriteString(" ")
		return true
	}
	for _, a := range c.attrs {
		write(a)
	}
	r.Attrs(write)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.l.Println(
		r.Time.Format("15:04:05.000"),
		level,
		r.Message,
		strings.TrimSpace(b.String()),
	)
	return nil
}

func (c *CustomHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *c
	clone.attrs = append(append([]slog.Attr(nil), c.attrs...), attrs...)
	return &clone
}

func (c *CustomHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return c
	}
	clone := *c
	clone.prefix = c.prefix + name + "."
	return &clone
}

func (c *CustomHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= c.level.Level()
}
