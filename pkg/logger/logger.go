// Package logger provides colored slog loggers for terminal output.
//
// Levels are color-coded: debug and info use the default color, warnings are
// yellow, and errors are red. Attributes are rendered as key=value pairs after
// the message.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
)

// Options configures a Logger.
type Options struct {
	// Level is the minimum level to emit.
	Level slog.Leveler

	// Output is the destination writer. Defaults to os.Stderr.
	Output io.Writer

	// DisableColor turns off ANSI colors even when the output is a terminal.
	DisableColor bool
}

// NewDefaultLogger creates a logger writing colored output to stderr at the
// given level.
func NewDefaultLogger(level slog.Level) *slog.Logger {
	return NewLogger(Options{Level: level})
}

// NewLogger creates a logger with custom options.
func NewLogger(opts Options) *slog.Logger {
	return slog.New(NewHandler(opts))
}

// NewHandler creates the color handler itself, for callers that wrap it in
// another slog.Handler.
func NewHandler(opts Options) slog.Handler {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.Level == nil {
		opts.Level = slog.LevelInfo
	}
	return newHandler(opts)
}

type handler struct {
	opts  Options
	color bool
	attrs []slog.Attr
	group string

	mu  *sync.Mutex
	out io.Writer
}

func newHandler(opts Options) *handler {
	color := !opts.DisableColor
	if f, ok := opts.Output.(*os.File); ok && color {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &handler{
		opts:  opts,
		color: color,
		mu:    &sync.Mutex{},
		out:   opts.Output,
	}
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	if h.color {
		b.WriteString(levelColor(r.Level))
	}
	b.WriteString(r.Time.Format("15:04:05"))
	b.WriteByte(' ')
	b.WriteString(levelTag(r.Level))
	b.WriteByte(' ')
	b.WriteString(r.Message)

	writeAttr := func(a slog.Attr) bool {
		if a.Key == "" {
			return true
		}
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		fmt.Fprintf(&b, " %s=%v", key, a.Value)
		return true
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	r.Attrs(writeAttr)

	if h.color {
		b.WriteString(colorReset)
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &nh
}

func (h *handler) WithGroup(name string) slog.Handler {
	nh := *h
	if nh.group != "" {
		nh.group += "." + name
	} else {
		nh.group = name
	}
	return &nh
}

func levelColor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return colorRed
	case l >= slog.LevelWarn:
		return colorYellow
	case l < slog.LevelInfo:
		return colorGray
	default:
		return ""
	}
}

func levelTag(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARN"
	case l >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
