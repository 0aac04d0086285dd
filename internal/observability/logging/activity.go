package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const activityTimeLayout = "2006-01-02 15:04:05"

type ActivityOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Logger receives a copy of every entry; defaults to slog.Default().
	Logger *slog.Logger
	// OnWriteError is called when an entry could not be appended to the file.
	OnWriteError func(error)
}

// ActivityLog is the human-readable audit trail of the watcher, one line per
// event: "2006-01-02 15:04:05 message key=value ...". Write failures never
// reach the caller.
type ActivityLog struct {
	mu           sync.Mutex
	out          io.Writer
	closer       io.Closer
	logger       *slog.Logger
	now          func() time.Time
	onWriteError func(error)
}

func NewActivityLog(opts ActivityOptions) (*ActivityLog, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("activity log path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create activity log dir: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		LocalTime:  true,
	}
	log := newActivityLog(rotator, opts.Logger, opts.OnWriteError)
	log.closer = rotator
	return log, nil
}

func newActivityLog(out io.Writer, logger *slog.Logger, onWriteError func(error)) *ActivityLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivityLog{
		out:          out,
		logger:       logger,
		now:          time.Now,
		onWriteError: onWriteError,
	}
}

// Record appends one entry. Entries carrying an "error" attribute are mirrored
// to the process log at warn level, the rest at info.
func (a *ActivityLog) Record(message string, attrs ...any) {
	a.logger.Log(context.Background(), activityLevel(attrs), message, append([]any{"component", "activity"}, attrs...)...)

	line := formatActivityLine(a.now(), message, attrs)

	a.mu.Lock()
	_, err := io.WriteString(a.out, line)
	a.mu.Unlock()

	if err != nil {
		a.logger.Error("activity_log_write_failed", "error", err, "entry", message)
		if a.onWriteError != nil {
			a.onWriteError(err)
		}
	}
}

func (a *ActivityLog) Close() error {
	if a.closer == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closer.Close()
}

func activityLevel(attrs []any) slog.Level {
	for i := 0; i+1 < len(attrs); i += 2 {
		if key, ok := attrs[i].(string); ok && key == "error" {
			return slog.LevelWarn
		}
	}
	return slog.LevelInfo
}

func formatActivityLine(ts time.Time, message string, attrs []any) string {
	var b strings.Builder
	b.WriteString(ts.Format(activityTimeLayout))
	b.WriteByte(' ')
	b.WriteString(message)

	for i := 0; i < len(attrs); i += 2 {
		key := fmt.Sprint(attrs[i])
		value := "!MISSING"
		if i+1 < len(attrs) {
			value = fmt.Sprint(attrs[i+1])
		}
		b.WriteByte(' ')
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(quoteIfNeeded(value))
	}
	b.WriteByte('\n')
	return b.String()
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
