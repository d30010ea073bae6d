package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestSnapshotReloadsAfterTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	var calls int32
	s := NewSnapshot("counter", 5*time.Minute, func(ctx context.Context) (int, error) {
		return int(atomic.AddInt32(&calls, 1)), nil
	}, WithClock[int](clock.Now), WithLogger[int](zaptest.NewLogger(t)))

	assert.True(t, s.IsStale())
	v, err := s.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.False(t, s.IsStale())

	clock.Advance(4 * time.Minute)
	v, _ = s.Get(context.Background())
	assert.Equal(t, 1, v)

	clock.Advance(time.Minute)
	assert.True(t, s.IsStale())
	v, _ = s.Get(context.Background())
	assert.Equal(t, 2, v)
	assert.Equal(t, clock.Now(), s.LoadedAt())
}

func TestSnapshotInvalidate(t *testing.T) {
	var calls int32
	s := NewSnapshot("counter", time.Hour, func(ctx context.Context) (int, error) {
		return int(atomic.AddInt32(&calls, 1)), nil
	})
	_, err := s.Get(context.Background())
	require.NoError(t, err)

	s.Invalidate()
	assert.True(t, s.IsStale())
	assert.True(t, s.LoadedAt().IsZero())

	v, err := s.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestSnapshotServesStaleValueOnReloadError(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	fail := false
	s := NewSnapshot("flaky", time.Minute, func(ctx context.Context) (string, error) {
		if fail {
			return "", errors.New("source unavailable")
		}
		return "v1", nil
	}, WithClock[string](clock.Now))

	v, err := s.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	fail = true
	clock.Advance(2 * time.Minute)
	v, err = s.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	s.Invalidate()
	_, err = s.Get(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load flaky")
}

func TestSnapshotConcurrentReadersShareOneLoad(t *testing.T) {
	release := make(chan struct{})
	var calls int32
	s := NewSnapshot("slow", time.Hour, func(ctx context.Context) ([]string, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []string{"a", "b"}, nil
	})

	var started, wg sync.WaitGroup
	results := make([][]string, 8)
	for i := range results {
		started.Add(1)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			v, err := s.Get(context.Background())
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, r := range results {
		assert.Equal(t, []string{"a", "b"}, r)
	}
}
