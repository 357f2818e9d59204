// Package limiter bounds how many CPU-heavy document operations run at once.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
)

var ErrBusy = errors.New("too many concurrent document operations")

// Limiter hands out per-key slots; each key has its own budget.
type Limiter struct {
	maxInflight int
	mu          sync.Mutex
	sem         map[string]chan struct{}
}

// New returns a Limiter allowing maxInflight operations per key.
// Non-positive means GOMAXPROCS.
func New(maxInflight int) *Limiter {
	if maxInflight <= 0 {
		maxInflight = runtime.GOMAXPROCS(0)
	}
	return &Limiter{maxInflight: maxInflight, sem: map[string]chan struct{}{}}
}

func (l *Limiter) slots(key string) chan struct{} {
	key = strings.ToLower(key)
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.sem[key]
	if !ok {
		ch = make(chan struct{}, l.maxInflight)
		l.sem[key] = ch
	}
	return ch
}

// Acquire waits for a slot for key until ctx is done.
func (l *Limiter) Acquire(ctx context.Context, key string) (func(), error) {
	ch := l.slots(key)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", ErrBusy, key, ctx.Err())
	}
}

// InUse returns the number of slots currently held for key.
func (l *Limiter) InUse(key string) int { return len(l.slots(key)) }

// Max returns the per-key budget.
func (l *Limiter) Max() int { return l.maxInflight }
