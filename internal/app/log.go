package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/getsentry/sentry-go"
	slogmulti "github.com/samber/slog-multi"
	slogsentry "github.com/samber/slog-sentry/v2"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"devcat/internal/config"
	"devcat/internal/devcat"
	"devcat/internal/syncutil"
)

// LogFileName is the name of the rotated log file in log_dir.
const LogFileName = "devcat.log"

// tabHandler is a slog.Handler that formats log records as:
//
//	<timestamp>\t<level>\t<runID>\t<message>\t<key=value ...>
//
// Each record reaches w in a single Write. Handlers derived with WithAttrs
// share the mutex guarding w.
type tabHandler struct {
	mu    *syncutil.Mutex
	w     io.Writer
	runID string
	level slog.Leveler
	attrs []slog.Attr
}

func newTabHandler(w io.Writer, runID string, level slog.Leveler) *tabHandler {
	return &tabHandler{mu: &syncutil.Mutex{}, w: w, runID: runID, level: level}
}

func (h *tabHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.level == nil {
		return true
	}
	return level >= h.level.Level()
}

func (h *tabHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer
	ts := r.Time.UTC().Format("2006-01-02T15:04:05Z")
	fmt.Fprintf(&buf, "%s\t%s\t%s\t%s", ts, r.Level.String(), h.runID, r.Message)

	for _, a := range h.attrs {
		fmt.Fprintf(&buf, "\t%s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&buf, "\t%s=%v", a.Key, a.Value)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *tabHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &tabHandler{
		mu:    h.mu,
		w:     h.w,
		runID: h.runID,
		level: h.level,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *tabHandler) WithGroup(string) slog.Handler { return h }

// parseLevel maps the config log level to a slog level. Unknown values
// fall back to info; config validation rejects them earlier.
func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger creates a structured logger that writes every record to a
// rotated logDir/devcat.log, records at the configured level to stderr,
// and errors to Sentry when a DSN is configured. The returned func flushes
// and closes the outputs.
func newLogger(cfg *config.Config, runID string, stderr io.Writer) (*slog.Logger, func() error, error) {
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, LogFileName),
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     30,
	}

	level := parseLevel(cfg.LogLevel)
	handlers := []slog.Handler{
		newTabHandler(file, runID, nil),
		newTabHandler(stderr, runID, level),
	}

	sentryEnabled := false
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:        cfg.SentryDSN,
			ServerName: cfg.HostID,
		})
		if err != nil {
			_ = file.Close()
			return nil, nil, fmt.Errorf("initializing sentry: %w", err)
		}
		handlers = append(handlers, slogsentry.Option{Level: slog.LevelError}.NewSentryHandler())
		sentryEnabled = true
	}

	closeFn := func() error {
		if sentryEnabled {
			sentry.Flush(2 * time.Second)
		}
		return file.Close()
	}
	return slog.New(slogmulti.Fanout(handlers...)), closeFn, nil
}

// slogAdapter wraps *slog.Logger to satisfy the devcat.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }

var _ devcat.Logger = (*slogAdapter)(nil)
