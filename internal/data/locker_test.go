package data

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"pos-ledger/internal/conf"
	ledgerErrors "pos-ledger/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

func TestLocalLockerSerializesSameKey(t *testing.T) {
	l := NewLocker(&conf.Bootstrap{}, nil, log.NewStdLogger(io.Discard))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "order:1")
			if err != nil {
				t.Errorf("Lock() error: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxSeen)
	}
	if n := len(l.(*localLocker).locks); n != 0 {
		t.Errorf("lock entries left = %d, want 0", n)
	}
}

func TestLocalLockerIndependentKeys(t *testing.T) {
	l := newLocalLocker(log.NewStdLogger(io.Discard))
	unlockA, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Lock(a) error: %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("Lock(b) error: %v", err)
	}
	unlockB()
}

func TestLocalLockerRespectsContext(t *testing.T) {
	l := newLocalLocker(log.NewStdLogger(io.Discard))
	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Lock() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "k"); !errors.Is(err, ledgerErrors.ErrLockFailed) {
		t.Errorf("Lock() while held error = %v, want ErrLockFailed", err)
	}

	unlock()
	again, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Lock() after release error: %v", err)
	}
	again()
}
