// Package journal persists per-session event streams as append-only
// line-delimited JSON and derives session state from them.
package journal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/thinksuit/thinksuit/internal/ids"
	"github.com/thinksuit/thinksuit/pkg/models"
)

// Notifier receives every entry appended to a session, in append order.
// Used to bridge the journal to live subscribers.
type Notifier func(sessionID string, e models.Entry)

// Writer owns the write side of session stream files. It is safe for
// concurrent use; appends to the same session are serialized.
type Writer struct {
	paths  ids.Paths
	logger *slog.Logger

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	notify Notifier
}

// NewWriter creates a journal writer over the given path layout.
func NewWriter(paths ids.Paths, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		paths:  paths,
		logger: logger.With("component", "journal"),
		locks:  make(map[string]*sync.Mutex),
	}
}

// SetNotifier registers the live-subscriber callback. The callback must not
// block; backpressure is the subscriber's concern.
func (w *Writer) SetNotifier(fn Notifier) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.notify = fn
}

// Append writes one entry to the session's stream and publishes it to the
// notifier. Time is stamped at append when unset. Each entry is synced so a
// crash loses at most the in-flight entry. The notifier is invoked under
// the session lock so subscribers see entries in file order.
func (w *Writer) Append(sessionID string, e models.Entry) error {
	path, err := w.paths.StreamPath(sessionID)
	if err != nil {
		return fmt.Errorf("resolve stream path: %w", err)
	}
	e.SessionID = sessionID

	lock := w.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := w.appendLine(sessionID, path, &e); err != nil {
		return err
	}
	w.mu.Lock()
	notify := w.notify
	w.mu.Unlock()
	if notify != nil {
		notify(sessionID, e)
	}
	return nil
}

// AppendTrace writes one entry to a trace stream. Trace entries are not
// published to session subscribers.
func (w *Writer) AppendTrace(traceID string, e models.Entry) error {
	path, err := w.paths.TracePath(traceID)
	if err != nil {
		return fmt.Errorf("resolve trace path: %w", err)
	}
	lock := w.lockFor(traceID)
	lock.Lock()
	defer lock.Unlock()
	return w.appendLine(traceID, path, &e)
}

// appendLine writes one serialized entry. Callers hold the stream's lock.
func (w *Writer) appendLine(key, path string, e *models.Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	if e.Level == "" {
		e.Level = models.LevelInfo
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	if err := ids.EnsureDir(path); err != nil {
		return fmt.Errorf("create stream dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		w.logger.Warn("stream fsync failed", "session", key, "error", err)
	}
	return nil
}

func (w *Writer) lockFor(key string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	lock, ok := w.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		w.locks[key] = lock
	}
	return lock
}

// Paths exposes the layout the writer persists under.
func (w *Writer) Paths() ids.Paths { return w.paths }
