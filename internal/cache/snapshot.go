// Package cache holds process-wide read-mostly snapshots (playbook registry, synonym
// dictionary) that are reloaded after a TTL and swapped in atomically.
package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Loader produces a fresh value for a snapshot.
type Loader[T any] func(ctx context.Context) (T, error)

type entry[T any] struct {
	value    T
	loadedAt time.Time
}

// Snapshot caches the result of a Loader for a TTL. Readers always see a complete
// value; concurrent reloads are collapsed into a single Loader call.
type Snapshot[T any] struct {
	name   string
	ttl    time.Duration
	load   Loader[T]
	logger *zap.Logger
	now    func() time.Time

	current atomic.Pointer[entry[T]]
	group   singleflight.Group
}

// Option configures a Snapshot.
type Option[T any] func(*Snapshot[T])

// WithClock overrides the time source.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(s *Snapshot[T]) { s.now = now }
}

// WithLogger sets the logger used for reload events.
func WithLogger[T any](l *zap.Logger) Option[T] {
	return func(s *Snapshot[T]) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSnapshot creates an empty snapshot. A non-positive ttl never expires.
func NewSnapshot[T any](name string, ttl time.Duration, load Loader[T], opts ...Option[T]) *Snapshot[T] {
	s := &Snapshot[T]{
		name:   name,
		ttl:    ttl,
		load:   load,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the cached value, reloading it first when missing or stale.
// If a reload fails and an older value exists, the older value is served and the error logged.
func (s *Snapshot[T]) Get(ctx context.Context) (T, error) {
	if e := s.current.Load(); e != nil && !s.expired(e) {
		return e.value, nil
	}
	v, err := s.Load(ctx)
	if err != nil {
		if e := s.current.Load(); e != nil {
			s.logger.Warn("snapshot reload failed, serving stale value",
				zap.String("snapshot", s.name), zap.Error(err))
			return e.value, nil
		}
		return v, err
	}
	return v, nil
}

// Load unconditionally runs the loader and swaps the result in.
func (s *Snapshot[T]) Load(ctx context.Context) (T, error) {
	res, err, _ := s.group.Do(s.name, func() (interface{}, error) {
		v, err := s.load(ctx)
		if err != nil {
			return nil, err
		}
		s.current.Store(&entry[T]{value: v, loadedAt: s.now()})
		s.logger.Info("snapshot loaded", zap.String("snapshot", s.name))
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, fmt.Errorf("load %s: %w", s.name, err)
	}
	return res.(T), nil
}

// IsStale reports whether the next Get will reload.
func (s *Snapshot[T]) IsStale() bool {
	e := s.current.Load()
	return e == nil || s.expired(e)
}

// Invalidate drops the current value; the next Get reloads.
func (s *Snapshot[T]) Invalidate() {
	s.current.Store(nil)
}

// LoadedAt returns when the current value was loaded, or the zero time.
func (s *Snapshot[T]) LoadedAt() time.Time {
	if e := s.current.Load(); e != nil {
		return e.loadedAt
	}
	return time.Time{}
}

func (s *Snapshot[T]) expired(e *entry[T]) bool {
	return s.ttl > 0 && s.now().Sub(e.loadedAt) >= s.ttl
}
