package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// rotatingWriter appends to a single log file and rotates it once it
// grows past maxBytes. Rotated files carry a UTC timestamp suffix
// (app.log.20060102T150405). Old backups are pruned by count and age
// after each rotation.
type rotatingWriter struct {
	mu         sync.Mutex
	path       string
	maxBytes   int64
	maxBackups int
	maxAge     time.Duration

	file *os.File
	size int64
}

func newRotatingWriter(path string, maxSizeMB, maxBackups, maxAgeDays int) *rotatingWriter {
	return &rotatingWriter{
		path:       path,
		maxBytes:   int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
		maxAge:     time.Duration(maxAgeDays) * 24 * time.Hour,
	}
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	if w.size+int64(len(p)) > w.maxBytes && w.size > 0 {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *rotatingWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

func (w *rotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close log file before rotation: %w", err)
	}
	w.file = nil
	stamped := fmt.Sprintf("%s.%s", w.path, time.Now().UTC().Format("20060102T150405"))
	if err := os.Rename(w.path, stamped); err != nil {
		return fmt.Errorf("rename rotated log: %w", err)
	}
	w.prune()
	return w.open()
}

// prune removes stamped backups beyond maxBackups and those older than
// maxAge. Pruning failures are ignored: losing an old backup must not
// break logging.
func (w *rotatingWriter) prune() {
	matches, err := filepath.Glob(w.path + ".*")
	if err != nil {
		return
	}
	// Timestamp suffixes sort lexicographically, newest last.
	sort.Strings(matches)

	cutoff := time.Now().Add(-w.maxAge)
	var kept []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(m)
			continue
		}
		kept = append(kept, m)
	}
	if excess := len(kept) - w.maxBackups; excess > 0 {
		for _, m := range kept[:excess] {
			_ = os.Remove(m)
		}
	}
}
