package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/thinksuit/thinksuit/internal/ids"
	"github.com/thinksuit/thinksuit/pkg/models"
)

// maxLineBytes bounds a single journal line. Entries are small; this exists
// so a corrupt file cannot exhaust memory.
const maxLineBytes = 4 << 20

// ErrSessionNotFound is returned when a session has no stream file.
var ErrSessionNotFound = errors.New("session not found")

// Reader provides read access to session streams.
type Reader struct {
	paths ids.Paths
}

// NewReader creates a reader over the given path layout.
func NewReader(paths ids.Paths) *Reader {
	return &Reader{paths: paths}
}

// ReadEntries returns every parseable entry in the session's stream, in
// append order. An incomplete trailing line is ignored.
func (r *Reader) ReadEntries(sessionID string) ([]models.Entry, error) {
	path, err := r.paths.StreamPath(sessionID)
	if err != nil {
		return nil, fmt.Errorf("resolve stream path: %w", err)
	}
	return readStream(path)
}

// ReadEntriesFrom returns the entries at index fromIndex and later.
func (r *Reader) ReadEntriesFrom(sessionID string, fromIndex int) ([]models.Entry, error) {
	entries, err := r.ReadEntries(sessionID)
	if err != nil {
		return nil, err
	}
	if fromIndex < 0 {
		fromIndex = 0
	}
	if fromIndex >= len(entries) {
		return nil, nil
	}
	return entries[fromIndex:], nil
}

// ReadTrace returns the entries of a trace stream.
func (r *Reader) ReadTrace(traceID string) ([]models.Entry, error) {
	path, err := r.paths.TracePath(traceID)
	if err != nil {
		return nil, fmt.Errorf("resolve trace path: %w", err)
	}
	return readStream(path)
}

func readStream(path string) ([]models.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("open stream: %w", err)
	}
	defer f.Close()

	var entries []models.Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e models.Entry
		if err := json.Unmarshal(line, &e); err != nil {
			// Tolerate a torn trailing line from an interrupted append.
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("scan stream: %w", err)
	}
	return entries, nil
}
