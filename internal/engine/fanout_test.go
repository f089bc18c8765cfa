package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestFanOutPreservesIndexes(t *testing.T) {
	outcomes := FanOut(context.Background(), 8, 3, func(ctx context.Context, idx int) (int, error) {
		if idx == 3 {
			return 0, fmt.Errorf("task %d exploded", idx)
		}
		return idx * 10, nil
	})

	if len(outcomes) != 8 {
		t.Fatalf("expected 8 outcomes, got %d", len(outcomes))
	}
	for i, o := range outcomes {
		if o.Index != i {
			t.Fatalf("slot %d holds index %d", i, o.Index)
		}
		if i == 3 {
			if o.Err == nil {
				t.Fatal("failing task must record its error in its own slot")
			}
			continue
		}
		if o.Err != nil {
			t.Fatalf("sibling %d must not be affected by failure: %v", i, o.Err)
		}
		if o.Value != i*10 {
			t.Fatalf("slot %d: want %d got %d", i, i*10, o.Value)
		}
	}
	if got := CountSuccesses(outcomes); got != 7 {
		t.Fatalf("expected 7 successes, got %d", got)
	}
}

func TestFanOutRespectsConcurrencyBound(t *testing.T) {
	var inflight, peak int64
	outcomes := FanOut(context.Background(), 12, 2, func(ctx context.Context, idx int) (struct{}, error) {
		cur := atomic.AddInt64(&inflight, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if cur <= p || atomic.CompareAndSwapInt64(&peak, p, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&inflight, -1)
		return struct{}{}, nil
	})

	if len(outcomes) != 12 {
		t.Fatalf("expected 12 outcomes, got %d", len(outcomes))
	}
	if atomic.LoadInt64(&peak) > 2 {
		t.Fatalf("admission gate violated: peak inflight %d", peak)
	}
}

func TestFanOutAllSlotsResolveWithMixedFailures(t *testing.T) {
	outcomes := FanOut(context.Background(), 6, 6, func(ctx context.Context, idx int) (string, error) {
		if idx%2 == 1 {
			return "", fmt.Errorf("odd task %d failed", idx)
		}
		return fmt.Sprintf("ok-%d", idx), nil
	})

	for i, o := range outcomes {
		failed := o.Err != nil
		if failed != (i%2 == 1) {
			t.Fatalf("slot %d resolution wrong: err=%v", i, o.Err)
		}
	}
	if got := CountSuccesses(outcomes); got != 3 {
		t.Fatalf("expected 3 successes, got %d", got)
	}
}
