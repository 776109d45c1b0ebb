// Package lock provides the advisory locks that keep two compactions of the
// same session from running at once.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roadmate/roadmate/internal/schema"
)

var (
	_ schema.Locker = (*Local)(nil)
	_ schema.Locker = (*Redis)(nil)
)

// Local is an in-process Locker. Keys are held until released; ttl is ignored.
type Local struct {
	mu   sync.Mutex
	held map[string]uint64
	next uint64
}

// NewLocal returns an empty Local locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]uint64)}
}

// Acquire takes key or returns schema.ErrLockHeld.
func (l *Local) Acquire(_ context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, fmt.Errorf("%w: %s", schema.ErrLockHeld, key)
	}
	l.next++
	token := l.next
	l.held[key] = token

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.held[key] == token {
			delete(l.held, key)
		}
		return nil
	}, nil
}
