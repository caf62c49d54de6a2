package scheduler

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/thinksuit/thinksuit/internal/ids"
	"github.com/thinksuit/thinksuit/internal/journal"
	"github.com/thinksuit/thinksuit/pkg/models"
)

// SortOrder orders session listings by creation time.
type SortOrder string

const (
	SortAscending  SortOrder = "asc"
	SortDescending SortOrder = "desc"
)

// ListOptions filters and orders ListSessions.
type ListOptions struct {
	FromTime time.Time
	ToTime   time.Time
	Order    SortOrder
}

// SessionSummary is one row of a session listing.
type SessionSummary struct {
	ID        string               `json:"id"`
	CreatedAt time.Time            `json:"createdAt"`
	Status    models.SessionStatus `json:"status"`
}

// SessionView is the full read model of one session.
type SessionView struct {
	ID      string               `json:"id"`
	Status  models.SessionStatus `json:"status"`
	Entries []models.Entry       `json:"entries"`
	Thread  models.Thread        `json:"thread"`
}

// ForkNode is one session in a fork graph, with its forks as children.
type ForkNode struct {
	SessionID     string      `json:"sessionId"`
	ForkFromIndex int         `json:"forkFromIndex,omitempty"`
	Children      []*ForkNode `json:"children,omitempty"`
}

// ListSessions enumerates sessions on disk, newest last by default order
// asc. The live busy registry overrides the persisted status.
func (s *Scheduler) ListSessions(opts ListOptions) ([]SessionSummary, error) {
	sessionIDs, err := walkStreamIDs(s.cfg.Paths.StreamBase)
	if err != nil {
		return nil, err
	}

	var out []SessionSummary
	for _, id := range sessionIDs {
		created, err := ids.Time(id)
		if err != nil {
			continue
		}
		if !opts.FromTime.IsZero() && created.Before(opts.FromTime) {
			continue
		}
		if !opts.ToTime.IsZero() && created.After(opts.ToTime) {
			continue
		}
		out = append(out, SessionSummary{
			ID:        id,
			CreatedAt: created,
			Status:    s.statusOf(id),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if opts.Order == SortDescending {
			return out[i].ID > out[j].ID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetSession returns the full read model of a session.
func (s *Scheduler) GetSession(sessionID string) (*SessionView, error) {
	entries, err := s.reader.ReadEntries(sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionView{
		ID:      sessionID,
		Status:  s.statusOf(sessionID),
		Entries: entries,
		Thread:  journal.BuildThread(entries),
	}, nil
}

// GetSessionStatus derives the current status of a session.
func (s *Scheduler) GetSessionStatus(sessionID string) (models.SessionStatus, error) {
	if _, err := s.reader.ReadEntries(sessionID); err != nil {
		return "", err
	}
	return s.statusOf(sessionID), nil
}

// GetSessionMetadata loads the persisted metadata document.
func (s *Scheduler) GetSessionMetadata(sessionID string) (*models.SessionMetadata, error) {
	return journal.ReadMetadata(s.cfg.Paths, sessionID)
}

// GetTrace returns the stage transitions of a trace stream.
func (s *Scheduler) GetTrace(traceID string) ([]models.Entry, error) {
	return s.reader.ReadTrace(traceID)
}

// ReadSessionLinesFrom returns the session's entries at fromIndex and later.
func (s *Scheduler) ReadSessionLinesFrom(sessionID string, fromIndex int) ([]models.Entry, error) {
	return s.reader.ReadEntriesFrom(sessionID, fromIndex)
}

// GetSessionForks builds the fork graph rooted at a session by scanning
// session metadata for fork origins.
func (s *Scheduler) GetSessionForks(sessionID string) (*ForkNode, error) {
	if _, err := s.reader.ReadEntries(sessionID); err != nil {
		return nil, err
	}
	children := make(map[string][]*ForkNode)

	metaIDs, err := walkMetadataIDs(s.cfg.Paths.MetadataBase)
	if err != nil {
		return nil, err
	}
	for _, id := range metaIDs {
		meta, err := journal.ReadMetadata(s.cfg.Paths, id)
		if err != nil || meta.Fork == nil {
			continue
		}
		children[meta.Fork.SourceSessionID] = append(children[meta.Fork.SourceSessionID], &ForkNode{
			SessionID:     meta.ID,
			ForkFromIndex: meta.Fork.ForkFromIndex,
		})
	}

	var attach func(node *ForkNode)
	attach = func(node *ForkNode) {
		kids := children[node.SessionID]
		sort.Slice(kids, func(i, j int) bool { return kids[i].SessionID < kids[j].SessionID })
		node.Children = kids
		for _, kid := range kids {
			attach(kid)
		}
	}
	root := &ForkNode{SessionID: sessionID}
	attach(root)
	return root, nil
}

// SubscribeToSession registers a live consumer for a session's entries. The
// returned function unsubscribes.
func (s *Scheduler) SubscribeToSession(sessionID string, onEvent func(models.Entry), onError func(error)) func() {
	return s.bus.Subscribe(sessionID, onEvent, onError)
}

// statusOf prefers the live busy registry, then persisted metadata, then
// derivation from the entry stream.
func (s *Scheduler) statusOf(sessionID string) models.SessionStatus {
	s.mu.Lock()
	_, running := s.busy[sessionID]
	s.mu.Unlock()
	if running {
		return models.StatusBusy
	}
	if meta, err := journal.ReadMetadata(s.cfg.Paths, sessionID); err == nil {
		return meta.Status
	}
	entries, err := s.reader.ReadEntries(sessionID)
	if err != nil {
		return models.StatusInitialized
	}
	return journal.DeriveStatus(entries)
}

func walkStreamIDs(base string) ([]string, error) {
	return walkIDs(base, ".jsonl")
}

func walkMetadataIDs(base string) ([]string, error) {
	return walkIDs(base, ".json")
}

func walkIDs(base, ext string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == base {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ext) {
			return nil
		}
		out = append(out, strings.TrimSuffix(d.Name(), ext))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
