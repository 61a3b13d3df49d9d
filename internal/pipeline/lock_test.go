package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLock_TryLock(t *testing.T) {
	k := newKeyedLock()

	unlock, ok := k.TryLock(1)
	require.True(t, ok)

	_, ok = k.TryLock(1)
	assert.False(t, ok, "held key")

	other, ok := k.TryLock(2)
	require.True(t, ok, "different keys are independent")
	other()

	unlock()
	unlock()
	assert.Zero(t, k.size())

	again, ok := k.TryLock(1)
	require.True(t, ok)
	again()
}

func TestKeyedLock_LockHonoursContext(t *testing.T) {
	k := newKeyedLock()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := k.Lock(cancelled, 1)
	assert.ErrorIs(t, err, context.Canceled)

	unlock, err := k.Lock(context.Background(), 1)
	require.NoError(t, err)

	ctx, cancelWait := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelWait()
	_, err = k.Lock(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.Zero(t, k.size())
}

func TestKeyedLock_Serializes(t *testing.T) {
	k := newKeyedLock()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := k.Lock(context.Background(), 7)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, k.size())
}
