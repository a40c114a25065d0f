package admission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/webtris-fetch/pkg/workitem"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		n           int
		expectError bool
	}{
		{"one slot", 1, false},
		{"ten slots", 10, false},
		{"zero slots", 0, true},
		{"negative", -3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.n)
			if tt.expectError {
				if !errors.Is(err, workitem.ErrInvalidConfig) {
					t.Fatalf("New(%d) error = %v, want ErrInvalidConfig", tt.n, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New(%d) error = %v", tt.n, err)
			}
			if l.Capacity() != tt.n {
				t.Errorf("Capacity() = %d, want %d", l.Capacity(), tt.n)
			}
		})
	}
}

func TestLimiter_SequentialAcquireRelease(t *testing.T) {
	const n = 3
	l, err := New(n)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < n+1; i++ {
		tok, err := l.Acquire(ctx)
		if err != nil {
			t.Fatalf("Acquire #%d error = %v", i, err)
		}
		if l.InFlight() != 1 {
			t.Errorf("InFlight() = %d, want 1", l.InFlight())
		}
		tok.Release()
	}

	if l.InFlight() != 0 {
		t.Errorf("InFlight() after releases = %d, want 0", l.InFlight())
	}
	if l.Peak() != 1 {
		t.Errorf("Peak() = %d, want 1", l.Peak())
	}
}

func TestLimiter_BlocksAtCapacity(t *testing.T) {
	l, _ := New(2)
	ctx := context.Background()

	t1, _ := l.Acquire(ctx)
	t2, _ := l.Acquire(ctx)

	acquired := make(chan *Token)
	go func() {
		tok, err := l.Acquire(ctx)
		if err != nil {
			return
		}
		acquired <- tok
	}()

	select {
	case <-acquired:
		t.Fatal("third Acquire succeeded while two tokens were held")
	case <-time.After(50 * time.Millisecond):
	}

	t1.Release()

	select {
	case tok := <-acquired:
		tok.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("third Acquire did not proceed after a release")
	}
	t2.Release()

	if l.Peak() != 2 {
		t.Errorf("Peak() = %d, want 2", l.Peak())
	}
}

func TestLimiter_ContextCancelled(t *testing.T) {
	l, _ := New(1)
	held, _ := l.Acquire(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	tok, err := l.Acquire(ctx)
	if err == nil {
		tok.Release()
		t.Fatal("Acquire() succeeded, want context error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() error = %v, want DeadlineExceeded", err)
	}
	if l.InFlight() != 1 {
		t.Errorf("InFlight() = %d, want 1", l.InFlight())
	}

	held.Release()
	if l.InFlight() != 0 {
		t.Errorf("InFlight() = %d, want 0", l.InFlight())
	}
}

func TestToken_DoubleReleaseIgnored(t *testing.T) {
	l, _ := New(1)
	ctx := context.Background()

	tok, _ := l.Acquire(ctx)
	tok.Release()
	tok.Release()

	if l.InFlight() != 0 {
		t.Errorf("InFlight() = %d, want 0", l.InFlight())
	}

	// A second release must not have freed an extra slot.
	a, _ := l.Acquire(ctx)
	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if b, err := l.Acquire(blocked); err == nil {
		b.Release()
		t.Error("two tokens granted on a one-slot limiter")
	}
	a.Release()
}

func TestLimiter_PeakNeverExceedsCapacity(t *testing.T) {
	for _, n := range []int{1, 2, 5, 16} {
		l, _ := New(n)
		var active, maxActive atomic.Int64
		var wg sync.WaitGroup

		for i := 0; i < 200; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tok, err := l.Acquire(context.Background())
				if err != nil {
					t.Errorf("Acquire() error = %v", err)
					return
				}
				defer tok.Release()

				cur := active.Add(1)
				for {
					m := maxActive.Load()
					if cur <= m || maxActive.CompareAndSwap(m, cur) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				active.Add(-1)
			}()
		}
		wg.Wait()

		if got := int(maxActive.Load()); got > n {
			t.Errorf("n=%d: observed %d concurrent holders", n, got)
		}
		if l.Peak() > n {
			t.Errorf("n=%d: Peak() = %d", n, l.Peak())
		}
		if l.InFlight() != 0 {
			t.Errorf("n=%d: InFlight() = %d after all releases", n, l.InFlight())
		}
	}
}
