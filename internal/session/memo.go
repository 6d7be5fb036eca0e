package session

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"
)

// memoMap memoizes keyed computations for the life of a session.
// Concurrent requests for the same key collapse into one computation and
// every caller, then and later, shares the identical result. Failures are
// memoized too: inputs are deterministic within a session, so retrying
// cannot change the outcome. Context cancellation is the one exception,
// since it says nothing about the inputs.
type memoMap[V any] struct {
	group   singleflight.Group
	mu      sync.RWMutex
	results map[string]memoResult[V]
}

type memoResult[V any] struct {
	value V
	err   error
}

func newMemoMap[V any]() *memoMap[V] {
	return &memoMap[V]{results: make(map[string]memoResult[V])}
}

func (m *memoMap[V]) do(key string, fn func() (V, error)) (V, error) {
	m.mu.RLock()
	r, ok := m.results[key]
	m.mu.RUnlock()
	if ok {
		return r.value, r.err
	}

	v, err, _ := m.group.Do(key, func() (any, error) {
		m.mu.RLock()
		r, ok := m.results[key]
		m.mu.RUnlock()
		if ok {
			return r.value, r.err
		}

		value, err := fn()
		if !isContextErr(err) {
			m.mu.Lock()
			m.results[key] = memoResult[V]{value: value, err: err}
			m.mu.Unlock()
		}
		return value, err
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

func (m *memoMap[V]) size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.results)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
