package ledger

import (
	"context"
	"sync"
)

// userLocks serializes mutating operations per user. Balance and position
// rows for different users are disjoint, so only same-user requests contend.
// Each user gets a one-slot semaphore; acquisition respects the request
// context so a stuck holder cannot block callers past their deadline.
type userLocks struct {
	mu   sync.Mutex
	sems map[string]chan struct{}
}

func newUserLocks() *userLocks {
	return &userLocks{sems: make(map[string]chan struct{})}
}

func (l *userLocks) sem(userID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	sem, ok := l.sems[userID]
	if !ok {
		sem = make(chan struct{}, 1)
		l.sems[userID] = sem
	}
	return sem
}

// acquire takes the user's exclusive scope, returning a release func.
// Returns ErrConcurrentModification if the context ends first.
func (l *userLocks) acquire(ctx context.Context, userID string) (func(), error) {
	sem := l.sem(userID)
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ErrConcurrentModification
	}
}
