package runlock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLocal_SerializesSameKey(t *testing.T) {
	locker := NewLocal()
	ctx := context.Background()

	var active, maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(ctx, "BTC")
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			defer release()

			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("Expected at most 1 concurrent holder, got %d", maxActive)
	}
}

func TestLocal_DifferentKeysIndependent(t *testing.T) {
	locker := NewLocal()
	ctx := context.Background()

	releaseBTC, err := locker.Acquire(ctx, "BTC")
	if err != nil {
		t.Fatalf("Acquire BTC: %v", err)
	}
	defer releaseBTC()

	ctxTimeout, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	releaseETH, err := locker.Acquire(ctxTimeout, "ETH")
	if err != nil {
		t.Fatalf("Acquire ETH must not wait on BTC: %v", err)
	}
	releaseETH()
}

func TestLocal_AcquireHonorsContext(t *testing.T) {
	locker := NewLocal()

	release, err := locker.Acquire(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := locker.Acquire(ctx, "BTC"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}
}

func TestLocal_ReleaseIsIdempotent(t *testing.T) {
	locker := NewLocal()
	ctx := context.Background()

	release, _ := locker.Acquire(ctx, "BTC")
	release()
	release()

	ctxTimeout, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	again, err := locker.Acquire(ctxTimeout, "BTC")
	if err != nil {
		t.Fatalf("Expected lock to be free after release: %v", err)
	}
	again()
}
