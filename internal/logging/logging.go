package logging

import (
	"context"
	"errors"
	"fmt"
	"github.com/lmittmann/tint"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Options struct {
	Level     string
	NoColor   bool
	AddSource bool
	// Buffer, when set, receives an uncoloured copy of every record.
	Buffer *Buffer
}

// ParseLevel accepts debug, info, warn and error; empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// New builds a tint backed logger writing to w.
func New(w io.Writer, opts Options) (*slog.Logger, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	tintOpts := &tint.Options{
		Level:       lvl,
		AddSource:   opts.AddSource,
		TimeFormat:  time.DateTime,
		NoColor:     opts.NoColor,
		ReplaceAttr: relativeSource(),
	}
	var h slog.Handler = tint.NewHandler(w, tintOpts)
	if opts.Buffer != nil {
		bufOpts := *tintOpts
		bufOpts.NoColor = true
		h = &teeHandler{handlers: []slog.Handler{h, tint.NewHandler(opts.Buffer, &bufOpts)}}
	}
	return slog.New(h), nil
}

// Discard returns a logger that drops everything, for tests and library defaults.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// relativeSource shortens source paths to the working directory so IDEs can resolve them.
func relativeSource() func([]string, slog.Attr) slog.Attr {
	wd, err := os.Getwd()
	if err != nil {
		return nil
	}
	unixPath := filepath.ToSlash(wd)
	return func(_ []string, attr slog.Attr) slog.Attr {
		if attr.Key != slog.SourceKey {
			return attr
		}
		source, ok := attr.Value.Any().(*slog.Source)
		if !ok {
			return attr
		}
		var sb strings.Builder
		sb.WriteString(".")
		sb.WriteString(strings.TrimPrefix(source.File, unixPath))
		sb.WriteString(":")
		sb.WriteString(strconv.Itoa(source.Line))
		return slog.String(attr.Key, sb.String())
	}
}

type teeHandler struct {
	handlers []slog.Handler
}

func (t *teeHandler) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t.handlers {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		hs[i] = h.WithAttrs(attrs)
	}
	return &teeHandler{handlers: hs}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		hs[i] = h.WithGroup(name)
	}
	return &teeHandler{handlers: hs}
}
