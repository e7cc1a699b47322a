// Package datafile owns the tab-separated acquisition record written during a
// run.
package datafile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pingsantohq/ag53230a/pkg/types"
)

const (
	suffix     = "-AG53230A_cont.dat"
	nameLayout = "20060102-150405"
)

var ErrClosed = errors.New("data file closed")

// FileName returns the data file name for a run started at t.
func FileName(prefix string, t time.Time) string {
	name := t.UTC().Format(nameLayout) + suffix
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return name
	}
	return prefix + "-" + name
}

// Writer appends one line per sample. Every line is handed to the OS as soon
// as it is emitted.
type Writer struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	lines  int
	closed bool
}

// Create makes a new data file in dir. An existing file with the same name
// is never overwritten.
func Create(dir, prefix string, now time.Time) (*Writer, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, FileName(prefix, now))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create data file: %w", err)
	}
	return &Writer{file: f, path: path}, nil
}

func (w *Writer) Path() string {
	return w.path
}

// Lines returns the number of samples written.
func (w *Writer) Lines() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

func (w *Writer) Emit(sample types.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if _, err := w.file.WriteString(sample.Line()); err != nil {
		return fmt.Errorf("write %s: %w", w.path, err)
	}
	w.lines++
	return nil
}

// Close syncs and closes the file. It is safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	syncErr := w.file.Sync()
	if err := w.file.Close(); err != nil {
		return err
	}
	return syncErr
}

// Remove closes the file if needed and deletes it.
func (w *Writer) Remove() error {
	if err := w.Close(); err != nil {
		return err
	}
	if err := os.Remove(w.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
