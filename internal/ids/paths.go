package ids

import (
	"os"
	"path/filepath"
)

// Environment overrides for the storage layout.
const (
	EnvHome        = "THINKSUIT_HOME"
	EnvSessionDir  = "THINKSUIT_SESSION_DIR"
	EnvMetadataDir = "THINKSUIT_SESSION_METADATA_DIR"
	EnvTraceDir    = "THINKSUIT_TRACE_DIR"
)

// Paths maps identifiers to the three persisted bases: session streams,
// session metadata, and traces.
type Paths struct {
	StreamBase   string
	MetadataBase string
	TraceBase    string
}

// DefaultPaths resolves the storage bases from the environment, falling back
// to <home>/.thinksuit/{sessions/streams,sessions/metadata,traces}.
func DefaultPaths() Paths {
	home := os.Getenv(EnvHome)
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			userHome = "."
		}
		home = filepath.Join(userHome, ".thinksuit")
	}
	p := Paths{
		StreamBase:   filepath.Join(home, "sessions", "streams"),
		MetadataBase: filepath.Join(home, "sessions", "metadata"),
		TraceBase:    filepath.Join(home, "traces"),
	}
	if dir := os.Getenv(EnvSessionDir); dir != "" {
		p.StreamBase = dir
	}
	if dir := os.Getenv(EnvMetadataDir); dir != "" {
		p.MetadataBase = dir
	}
	if dir := os.Getenv(EnvTraceDir); dir != "" {
		p.TraceBase = dir
	}
	return p
}

// StreamPath returns the JSONL stream file for a session.
func (p Paths) StreamPath(id string) (string, error) {
	return partitioned(p.StreamBase, id, ".jsonl")
}

// MetadataPath returns the metadata document for a session.
func (p Paths) MetadataPath(id string) (string, error) {
	return partitioned(p.MetadataBase, id, ".json")
}

// TracePath returns the trace stream for a trace ID.
func (p Paths) TracePath(id string) (string, error) {
	return partitioned(p.TraceBase, id, ".jsonl")
}

func partitioned(base, id, ext string) (string, error) {
	part, err := Parse(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, part.Year, part.Month, part.Day, part.Hour, id+ext), nil
}

// EnsureDir creates the parent directory of path if missing.
func EnsureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
