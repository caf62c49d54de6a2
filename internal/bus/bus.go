// Package bus broadcasts journal entries to live per-session subscribers.
// The bus has no persistence; the journal itself is the source of truth.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/thinksuit/thinksuit/pkg/models"
)

// subscriberBuffer bounds the per-subscriber queue. On overflow the oldest
// entry is dropped; the policy is fixed process-wide so consumers can reason
// about it.
const subscriberBuffer = 256

// heartbeatInterval is how long a session may be idle before subscribers
// receive a heartbeat frame.
const heartbeatInterval = 30 * time.Second

// Bus is a per-session multi-consumer broadcaster. Subscribers observe
// entries in the order they were published.
type Bus struct {
	logger         *slog.Logger
	heartbeatEvery time.Duration

	mu       sync.Mutex
	sessions map[string]*sessionHub
}

type sessionHub struct {
	id       string
	subs     map[int]*subscriber
	nextID   int
	stop     chan struct{}
	activity chan struct{}
}

type subscriber struct {
	queue   chan models.Entry
	onEvent func(models.Entry)
	onError func(error)
	done    chan struct{}
	dropped int
	mu      sync.Mutex
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:         logger.With("component", "bus"),
		heartbeatEvery: heartbeatInterval,
		sessions:       make(map[string]*sessionHub),
	}
}

// Publish fans an entry out to every subscriber of the session. It never
// blocks: a full subscriber queue drops its oldest entry.
func (b *Bus) Publish(sessionID string, e models.Entry) {
	b.mu.Lock()
	hub, ok := b.sessions[sessionID]
	if !ok {
		b.mu.Unlock()
		return
	}
	subs := make([]*subscriber, 0, len(hub.subs))
	for _, s := range hub.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	// Any publish counts as activity and defers the next heartbeat.
	select {
	case hub.activity <- struct{}{}:
	default:
	}

	for _, s := range subs {
		s.enqueue(e, b.logger, sessionID)
	}
}

// Subscribe registers a consumer for a session's entries. onEvent is invoked
// from a dedicated goroutine in publish order. The returned function
// unsubscribes deterministically; it is safe to call more than once.
func (b *Bus) Subscribe(sessionID string, onEvent func(models.Entry), onError func(error)) func() {
	sub := &subscriber{
		queue:   make(chan models.Entry, subscriberBuffer),
		onEvent: onEvent,
		onError: onError,
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	hub, ok := b.sessions[sessionID]
	if !ok {
		hub = &sessionHub{
			id:       sessionID,
			subs:     make(map[int]*subscriber),
			stop:     make(chan struct{}),
			activity: make(chan struct{}, 1),
		}
		b.sessions[sessionID] = hub
		go b.heartbeatLoop(hub)
	}
	id := hub.nextID
	hub.nextID++
	hub.subs[id] = sub
	b.mu.Unlock()

	go sub.deliverLoop()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if hub, ok := b.sessions[sessionID]; ok {
				delete(hub.subs, id)
				if len(hub.subs) == 0 {
					close(hub.stop)
					delete(b.sessions, sessionID)
				}
			}
			b.mu.Unlock()
			close(sub.done)
		})
	}
}

// SubscriberCount returns the number of live subscribers for a session.
func (b *Bus) SubscriberCount(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if hub, ok := b.sessions[sessionID]; ok {
		return len(hub.subs)
	}
	return 0
}

// heartbeatLoop emits a heartbeat frame only after the session has been
// idle for the full interval. Every publish resets the countdown.
func (b *Bus) heartbeatLoop(hub *sessionHub) {
	timer := time.NewTimer(b.heartbeatEvery)
	defer timer.Stop()
	for {
		select {
		case <-hub.stop:
			return
		case <-hub.activity:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(b.heartbeatEvery)
		case t := <-timer.C:
			b.Publish(hub.id, models.Entry{
				Time:      t.UTC(),
				SessionID: hub.id,
				Event:     models.EventSessionHeartbeat,
				Level:     models.LevelDebug,
			})
			timer.Reset(b.heartbeatEvery)
		}
	}
}

func (s *subscriber) enqueue(e models.Entry, logger *slog.Logger, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	for {
		select {
		case s.queue <- e:
			return
		default:
			// Queue full: drop the oldest entry to make room.
			select {
			case <-s.queue:
				s.dropped++
				if s.dropped == 1 {
					logger.Warn("slow consumer, dropping oldest entries", "session", sessionID)
				}
			default:
			}
		}
	}
}

func (s *subscriber) deliverLoop() {
	for {
		select {
		case <-s.done:
			return
		case e := <-s.queue:
			if s.onEvent != nil {
				s.onEvent(e)
			}
		}
	}
}
