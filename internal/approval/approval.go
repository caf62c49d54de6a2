// Package approval tracks pending tool-call approvals. Each request blocks
// the calling executor on a decision channel until an operator resolves it,
// the request expires, or the session is cancelled.
package approval

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/thinksuit/thinksuit/internal/ids"
)

// Decision is the terminal state of an approval request.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionDenied   Decision = "denied"
	DecisionExpired  Decision = "expired"
)

// DefaultTTL bounds how long a request stays pending before it is treated
// as denied.
const DefaultTTL = 120 * time.Second

// Request is one pending or resolved approval.
type Request struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	Tool      string          `json:"tool"`
	Args      json.RawMessage `json:"args,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Decision  Decision        `json:"decision"`
	DecidedAt time.Time       `json:"decidedAt,omitzero"`
}

type pending struct {
	req   Request
	done  chan bool
	once  sync.Once
	timer *time.Timer
}

// Registry holds in-flight approval requests. Resolution is exactly-once:
// the first of Resolve, expiry, or context cancellation wins and later
// attempts are no-ops.
type Registry struct {
	mu       sync.RWMutex
	requests map[string]*pending
	ttl      time.Duration
	logger   *slog.Logger
}

// NewRegistry creates a registry with the given pending TTL. A zero ttl
// uses DefaultTTL.
func NewRegistry(ttl time.Duration, logger *slog.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		requests: make(map[string]*pending),
		ttl:      ttl,
		logger:   logger.With("component", "approval"),
	}
}

// Submit registers a new approval request and returns its ID plus a channel
// that yields the decision exactly once. If ctx is cancelled before a
// decision lands, the request is denied.
func (r *Registry) Submit(ctx context.Context, sessionID, tool string, args json.RawMessage) (string, <-chan bool) {
	now := time.Now().UTC()
	p := &pending{
		req: Request{
			ID:        ids.New(),
			SessionID: sessionID,
			Tool:      tool,
			Args:      args,
			CreatedAt: now,
			ExpiresAt: now.Add(r.ttl),
			Decision:  DecisionPending,
		},
		done: make(chan bool, 1),
	}

	r.mu.Lock()
	r.requests[p.req.ID] = p
	r.mu.Unlock()

	p.timer = time.AfterFunc(r.ttl, func() {
		r.settle(p, false, DecisionExpired)
	})

	go func() {
		select {
		case <-ctx.Done():
			r.settle(p, false, DecisionDenied)
		case <-p.done:
		}
	}()

	r.logger.Info("approval requested",
		"approvalId", p.req.ID,
		"sessionId", sessionID,
		"tool", tool)
	return p.req.ID, p.done
}

// Resolve records a decision for a pending request. It returns false when
// the ID is unknown or the request was already settled.
func (r *Registry) Resolve(approvalID string, approved bool) bool {
	r.mu.RLock()
	p, ok := r.requests[approvalID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	decision := DecisionDenied
	if approved {
		decision = DecisionApproved
	}
	return r.settle(p, approved, decision)
}

// settle finalizes a request. Returns true if this call won the race.
func (r *Registry) settle(p *pending, approved bool, decision Decision) bool {
	won := false
	p.once.Do(func() {
		won = true
		if p.timer != nil {
			p.timer.Stop()
		}

		r.mu.Lock()
		p.req.Decision = decision
		p.req.DecidedAt = time.Now().UTC()
		r.mu.Unlock()

		p.done <- approved
		close(p.done)

		r.logger.Info("approval settled",
			"approvalId", p.req.ID,
			"decision", decision)
	})
	return won
}

// Info returns a snapshot of a request by ID.
func (r *Registry) Info(approvalID string) (Request, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.requests[approvalID]
	if !ok {
		return Request{}, false
	}
	return p.req, true
}

// ListPending returns undecided requests, newest last. An empty sessionID
// lists across all sessions.
func (r *Registry) ListPending(sessionID string) []Request {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Request
	for _, p := range r.requests {
		if p.req.Decision != DecisionPending {
			continue
		}
		if sessionID != "" && p.req.SessionID != sessionID {
			continue
		}
		out = append(out, p.req)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Prune drops settled requests older than the cutoff, keeping the map from
// growing without bound in long-lived processes.
func (r *Registry) Prune(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	r.mu.Lock()
	defer r.mu.Unlock()

	pruned := 0
	for id, p := range r.requests {
		if p.req.Decision != DecisionPending && p.req.CreatedAt.Before(cutoff) {
			delete(r.requests, id)
			pruned++
		}
	}
	return pruned
}
