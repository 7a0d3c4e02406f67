package keylock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/bizartvisor/pkg/utils/keylock"
	"github.com/m-mizutani/gt"
)

func TestLockSameKeySerializes(t *testing.T) {
	l := keylock.New()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "session-a")
			if err != nil {
				t.Error(err)
				return
			}
			defer unlock()

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
		}()
	}
	wg.Wait()

	gt.Equal(t, maxSeen, 1)
	gt.Equal(t, l.Len(), 0)
}

func TestLockDifferentKeysIndependent(t *testing.T) {
	l := keylock.New()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "a")
	gt.NoError(t, err)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB, err := l.Lock(ctx, "b")
		if err != nil {
			t.Error(err)
			return
		}
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key was blocked")
	}
}

func TestLockCancelled(t *testing.T) {
	l := keylock.New()

	unlock, err := l.Lock(context.Background(), "k")
	gt.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	gt.Error(t, err)

	unlock()
	unlock() // second call is a no-op
	gt.Equal(t, l.Len(), 0)
}
