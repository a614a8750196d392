// Package logger provides the process-wide structured logger built on
// log/slog, plus a dedicated audit channel for security-sensitive events.
//
// The package keeps two singletons: the main logger returned by L, and
// the audit logger returned by Audit. Both are configured once through
// Init; before Init is called they fall back to a text handler writing
// to stderr so early startup code can always log.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Config controls logger initialization.
type Config struct {
	// Level is the minimum level for the main logger: debug, info,
	// warn or error. Defaults to info.
	Level string `json:"level"`
	// Format selects the handler: "json" or "text". Defaults to json.
	Format string `json:"format"`
	// FilePath, when set, mirrors the main logger output into a
	// rotating file in addition to stderr.
	FilePath string `json:"file_path"`
	// AuditFilePath, when set, sends audit events to a rotating file.
	// When empty, audit events go to the main logger output.
	AuditFilePath string `json:"audit_file_path"`
	// MaxSizeMB is the size threshold in megabytes that triggers
	// rotation of file outputs. Defaults to 100.
	MaxSizeMB int `json:"max_size_mb"`
	// MaxBackups is the number of rotated files to keep. Defaults to 7.
	MaxBackups int `json:"max_backups"`
	// MaxAgeDays prunes rotated files older than this many days.
	// Defaults to 30.
	MaxAgeDays int `json:"max_age_days"`
}

var (
	mu      sync.RWMutex
	main    *slog.Logger
	audit   *slog.Logger
	closers []io.Closer
)

func init() {
	fallback := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	main = fallback
	audit = fallback.With("channel", "audit")
}

// Init configures the global loggers. It is safe to call more than
// once; later calls replace the previous configuration and close any
// file outputs the previous one opened.
func Init(cfg Config) error {
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 100
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 7
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 30
	}

	var newClosers []io.Closer

	var out io.Writer = os.Stderr
	if cfg.FilePath != "" {
		w := newRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
		newClosers = append(newClosers, w)
		out = io.MultiWriter(os.Stderr, w)
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	newMain := slog.New(handler)

	// The audit channel never filters below info and always uses the
	// JSON handler, so audit records stay machine-parseable.
	auditOut := out
	if cfg.AuditFilePath != "" {
		w := newRotatingWriter(cfg.AuditFilePath, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
		newClosers = append(newClosers, w)
		auditOut = w
	}
	newAudit := slog.New(slog.NewJSONHandler(auditOut, &slog.HandlerOptions{Level: slog.LevelInfo})).
		With("channel", "audit")

	mu.Lock()
	old := closers
	main = newMain
	audit = newAudit
	closers = newClosers
	mu.Unlock()

	for _, c := range old {
		_ = c.Close()
	}
	return nil
}

// L returns the main process logger.
func L() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return main
}

// Audit returns the audit logger. Every record it emits carries the
// attribute channel=audit and a wall-clock audit_ts, so audit lines
// remain identifiable even when mixed into the main output.
func Audit() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return audit.With("audit_ts", time.Now().UTC().Format(time.RFC3339Nano))
}

// Sync flushes and closes any file outputs. Call it on shutdown.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	var first error
	for _, c := range closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	closers = nil
	return first
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
