// Package keylock serializes work per key while leaving different keys
// independent. Idle keys are released so the arena does not grow with the
// number of keys ever seen.
package keylock

import (
	"context"
	"sync"
)

type entry struct {
	ch   chan struct{}
	refs int
}

type Arena struct {
	mu    sync.Mutex
	locks map[string]*entry
}

func New() *Arena {
	return &Arena{locks: make(map[string]*entry)}
}

// Lock blocks until key is free or ctx is done. The returned func releases
// the key and must be called exactly once.
func (a *Arena) Lock(ctx context.Context, key string) (func(), error) {
	a.mu.Lock()
	e, ok := a.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		a.locks[key] = e
	}
	e.refs++
	a.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		a.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			a.release(key, e)
		})
	}, nil
}

// Do runs fn while holding key.
func (a *Arena) Do(ctx context.Context, key string, fn func() error) error {
	unlock, err := a.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

func (a *Arena) release(key string, e *entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(a.locks, key)
	}
}

// Len reports how many keys are currently held or awaited.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.locks)
}
