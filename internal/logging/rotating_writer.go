package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultMaxBytes caps one log file before a same-day rollover.
const DefaultMaxBytes int64 = 64 << 20

// RotatingWriter appends to <prefix>-YYYY-MM-DD[-N]<ext> next to BasePath,
// starting a new file every UTC day and whenever a write would push the
// current file past MaxBytes. BasePath itself is kept as a symlink to the
// active file.
//
//	logs/reportd.log -> logs/reportd-2026-10-17.log, logs/reportd-2026-10-17-2.log
type RotatingWriter struct {
	BasePath string
	MaxBytes int64

	mu    sync.Mutex
	now   func() time.Time
	day   string
	index int
	file  *os.File
	size  int64
}

// NewRotatingWriter opens the writer for basePath. "-" returns a writer that
// discards everything.
func NewRotatingWriter(basePath string, maxBytes int64) (io.WriteCloser, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "-" {
		return discard{}, nil
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	w := &RotatingWriter{BasePath: basePath, MaxBytes: maxBytes, now: time.Now}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.rotate(0); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.rotate(int64(len(p))); err != nil {
		return 0, err
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// rotate must be called with mu held.
func (w *RotatingWriter) rotate(incoming int64) error {
	day := w.now().UTC().Format(time.DateOnly)
	switch {
	case w.file == nil || w.day != day:
		w.day, w.index = day, 1
	case w.size > 0 && w.size+incoming > w.MaxBytes:
		w.index++
	default:
		return nil
	}
	return w.open()
}

func (w *RotatingWriter) open() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	path := w.filename()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("logging: create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logging: open log file: %w", err)
	}
	w.file, w.size = f, 0
	if st, err := f.Stat(); err == nil {
		w.size = st.Size()
	}
	w.link(path)
	return nil
}

func (w *RotatingWriter) filename() string {
	dir, name := filepath.Split(w.BasePath)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if ext == "" {
		ext = ".log"
	}
	if w.index > 1 {
		return filepath.Join(dir, fmt.Sprintf("%s-%s-%d%s", stem, w.day, w.index, ext))
	}
	return filepath.Join(dir, fmt.Sprintf("%s-%s%s", stem, w.day, ext))
}

// link points BasePath at target; best effort.
func (w *RotatingWriter) link(target string) {
	if info, err := os.Lstat(w.BasePath); err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			if dest, err := os.Readlink(w.BasePath); err == nil && dest == filepath.Base(target) {
				return
			}
		}
		_ = os.Remove(w.BasePath)
	}
	_ = os.Symlink(filepath.Base(target), w.BasePath)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
func (discard) Close() error                { return nil }
