package keylock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockSerializesSameKey(t *testing.T) {
	locks := New()
	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("alice")
			defer unlock()

			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, 0, locks.Len())
}

func TestLockDifferentKeys(t *testing.T) {
	locks := New()
	unlockAlice := locks.Lock("alice")

	done := make(chan struct{})
	go func() {
		unlock := locks.Lock("bob")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("bob waited for alice")
	}
	assert.Equal(t, 1, locks.Len())

	unlockAlice()
	assert.Equal(t, 0, locks.Len())
}

func TestEntriesAreReleased(t *testing.T) {
	locks := New()
	for _, user := range []string{"a", "b", "c"} {
		locks.Lock(user)()
	}
	assert.Equal(t, 0, locks.Len())
}
