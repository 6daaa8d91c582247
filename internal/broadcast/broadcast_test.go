package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	kit "relaybot/internal/transport"
	"relaybot/pkg/logx"
)

type fakeSender struct {
	mu      sync.Mutex
	sent    []int64
	failFor map[int64]error

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxInFlight.Load()
		if cur <= max || f.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[to.ChatID]; ok {
		return kit.MessageRef{}, err
	}
	f.sent = append(f.sent, to.ChatID)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func TestRunPartialFailure(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{failFor: map[int64]error{2: errors.New("blocked")}}
	svc := New(Config{Workers: 1, RatePerSec: 1000}, sender, logx.Nop())

	rep := svc.Run(context.Background(), []int64{1, 2, 3}, "hello", nil)

	if rep.Total != 3 || rep.Sent != 2 || rep.Failed != 1 {
		t.Fatalf("Report = %+v, want Total 3, Sent 2, Failed 1", rep)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("attempted sends = %v, want the two non-failing recipients", sender.sent)
	}
}

func TestRunEmptyRecipients(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	svc := New(Config{}, sender, logx.Nop())

	rep := svc.Run(context.Background(), nil, "hello", nil)
	if rep.Total != 0 || rep.Sent != 0 || rep.Failed != 0 {
		t.Fatalf("Report = %+v, want all zero", rep)
	}
}

func TestRunAllRecipientsAttempted(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	svc := New(Config{Workers: 4, RatePerSec: 1000}, sender, logx.Nop())

	ids := make([]int64, 50)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	rep := svc.Run(context.Background(), ids, "hello", nil)

	if rep.Sent != 50 || rep.Failed != 0 {
		t.Fatalf("Report = %+v, want 50 sent", rep)
	}
	seen := map[int64]int{}
	for _, id := range sender.sent {
		seen[id]++
	}
	for _, id := range ids {
		if seen[id] != 1 {
			t.Fatalf("recipient %d attempted %d times, want exactly once", id, seen[id])
		}
	}
}

func TestRunBoundedConcurrency(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{}
	svc := New(Config{Workers: 3, RatePerSec: 10000}, sender, logx.Nop())

	ids := make([]int64, 100)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	svc.Run(context.Background(), ids, "hello", nil)

	if got := sender.maxInFlight.Load(); got > 3 {
		t.Fatalf("max in-flight sends = %d, want <= 3", got)
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()
	svc := New(Config{Workers: -1, RatePerSec: 0}, &fakeSender{}, logx.Nop())
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.cfg.Workers != 4 || svc.cfg.RatePerSec != 25 {
		t.Fatalf("defaults = %+v, want Workers 4, RatePerSec 25", svc.cfg)
	}
}
