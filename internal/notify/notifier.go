// Package notify resolves waiting HTTP requests when a session's
// analysis result arrives, so clients block on one request instead of
// polling the session endpoint.
package notify

import (
	"sync"

	"github.com/google/uuid"

	"github.com/your-org/rollcall/internal/models"
)

type Notifier struct {
	mu      sync.Mutex
	waiters map[uuid.UUID][]*Waiter
}

// Waiter receives at most one result on C. Close it when done; a
// closed waiter is never delivered to.
type Waiter struct {
	C <-chan *models.AnalysisResult

	sessionID uuid.UUID
	ch        chan *models.AnalysisResult
	n         *Notifier
}

func NewNotifier() *Notifier {
	return &Notifier{waiters: make(map[uuid.UUID][]*Waiter)}
}

// Register adds a waiter for a session. Register before re-checking the
// session's status, so a result landing in between is not missed.
func (n *Notifier) Register(sessionID uuid.UUID) *Waiter {
	w := &Waiter{
		sessionID: sessionID,
		ch:        make(chan *models.AnalysisResult, 1),
		n:         n,
	}
	w.C = w.ch

	n.mu.Lock()
	n.waiters[sessionID] = append(n.waiters[sessionID], w)
	n.mu.Unlock()
	return w
}

// Close deregisters the waiter. Safe to call after delivery.
func (w *Waiter) Close() {
	n := w.n
	n.mu.Lock()
	defer n.mu.Unlock()

	list := n.waiters[w.sessionID]
	for i, other := range list {
		if other == w {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(n.waiters, w.sessionID)
	} else {
		n.waiters[w.sessionID] = list
	}
}

// Resolve delivers a result to every waiter registered for its session.
func (n *Notifier) Resolve(result *models.AnalysisResult) {
	n.mu.Lock()
	list := n.waiters[result.SessionID]
	delete(n.waiters, result.SessionID)
	n.mu.Unlock()

	for _, w := range list {
		// Buffered; a waiter receives at most once.
		w.ch <- result
	}
}

// Pending reports how many waiters are currently registered.
func (n *Notifier) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	total := 0
	for _, list := range n.waiters {
		total += len(list)
	}
	return total
}
