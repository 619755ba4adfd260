package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestDedupSeenOrMark(t *testing.T) {
	clock := newFakeClock()
	c := NewDedupCache(300 * time.Second)
	c.now = clock.Now

	assert.False(t, c.SeenOrMark("m1"))
	assert.True(t, c.SeenOrMark("m1"))

	clock.Advance(10 * time.Second)
	assert.True(t, c.SeenOrMark("m1"))
	assert.False(t, c.SeenOrMark("m2"))
	assert.Equal(t, 2, c.Len())
}

func TestDedupExpiresAfterTTL(t *testing.T) {
	clock := newFakeClock()
	c := NewDedupCache(300 * time.Second)
	c.now = clock.Now

	require.False(t, c.SeenOrMark("m1"))

	// Duplicates do not extend the window.
	clock.Advance(200 * time.Second)
	require.True(t, c.SeenOrMark("m1"))

	clock.Advance(101 * time.Second)
	assert.False(t, c.SeenOrMark("m1"))
}

func TestDedupConcurrentFirstSeen(t *testing.T) {
	c := NewDedupCache(time.Minute)

	const n = 64
	var first atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if !c.SeenOrMark("same") {
				first.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, first.Load())
}

func TestDedupSweep(t *testing.T) {
	clock := newFakeClock()
	c := NewDedupCache(300 * time.Second)
	c.now = clock.Now

	c.SeenOrMark("old1")
	c.SeenOrMark("old2")
	clock.Advance(200 * time.Second)
	c.SeenOrMark("fresh")
	clock.Advance(150 * time.Second)

	removed, remaining := c.Sweep()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, remaining)
	assert.True(t, c.SeenOrMark("fresh"))
}

func TestDedupRunStopsOnCancel(t *testing.T) {
	c := NewDedupCache(time.Millisecond)
	c.SeenOrMark("x")

	ctx, cancel := context.WithCancel(context.Background())
	swept := make(chan int, 16)
	done := make(chan struct{})
	go func() {
		c.Run(ctx, 5*time.Millisecond, func(removed, remaining int) {
			select {
			case swept <- removed:
			default:
			}
		})
		close(done)
	}()

	select {
	case <-swept:
	case <-time.After(2 * time.Second):
		t.Fatal("no sweep observed")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Zero(t, c.Len())
}

func TestDedupReset(t *testing.T) {
	c := NewDedupCache(0)
	assert.Equal(t, DefaultDedupTTL, c.ttl)
	c.SeenOrMark("a")
	c.Reset()
	assert.Zero(t, c.Len())
	assert.False(t, c.SeenOrMark("a"))
}
