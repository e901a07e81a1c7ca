// ABOUTME: Tests for the dedupe window: first sightings, expiry and size-bound eviction
// ABOUTME: Uses an injected clock instead of sleeping

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func TestWindowFirst(t *testing.T) {
	w := New(time.Minute, 10)

	assert.True(t, w.First("$evt1"))
	assert.False(t, w.First("$evt1"))
	assert.True(t, w.First("$evt2"))
	assert.Equal(t, 2, w.Len())
}

func TestWindowEmptyKeyIsAlwaysNew(t *testing.T) {
	w := New(time.Minute, 10)

	assert.True(t, w.First(""))
	assert.True(t, w.First(""))
	assert.Zero(t, w.Len())
}

func TestWindowExpiry(t *testing.T) {
	c := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	w := New(time.Minute, 10, WithClock(c.Now))

	assert.True(t, w.First("a"))
	c.now = c.now.Add(30 * time.Second)
	assert.True(t, w.First("b"))
	assert.False(t, w.First("a"), "still inside the window")

	c.now = c.now.Add(31 * time.Second)
	assert.True(t, w.First("a"), "a expired")
	assert.False(t, w.First("b"))
}

func TestWindowEvictsOldestAtCapacity(t *testing.T) {
	w := New(time.Hour, 3)

	for _, k := range []string{"a", "b", "c", "d"} {
		assert.True(t, w.First(k))
	}
	assert.Equal(t, 3, w.Len())
	assert.True(t, w.First("a"), "a was evicted to make room for d")
	assert.False(t, w.First("d"))
}

func TestWindowConcurrentFirst(t *testing.T) {
	w := New(time.Hour, 1000)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		first int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.First("same") {
				mu.Lock()
				first++
				mu.Unlock()
			}
			w.First(fmt.Sprintf("k%d", i))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, first)
}
