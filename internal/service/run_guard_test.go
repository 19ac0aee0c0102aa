package service

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestRunGuardSingleFlight(t *testing.T) {
	g := NewRunGuard()
	release, ok := g.TryAcquire("recordings")
	if !ok {
		t.Fatalf("first acquire refused")
	}
	if _, ok := g.TryAcquire("recordings"); ok {
		t.Fatalf("second acquire granted while held")
	}
	if _, ok := g.TryAcquire("other"); !ok {
		t.Fatalf("independent key refused")
	}
	if !g.Busy("recordings") {
		t.Fatalf("Busy=false while held")
	}
	release()
	release()
	if g.Busy("recordings") {
		t.Fatalf("Busy=true after release")
	}
	if _, ok := g.TryAcquire("recordings"); !ok {
		t.Fatalf("acquire after release refused")
	}
}

func TestRunGuardConcurrentAcquire(t *testing.T) {
	g := NewRunGuard()
	var granted int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok := g.TryAcquire("k"); ok {
				atomic.AddInt32(&granted, 1)
			}
		}()
	}
	close(start)
	wg.Wait()
	if granted != 1 {
		t.Fatalf("granted=%d want 1", granted)
	}
}

func TestRecordingSyncLazyGuardIsShared(t *testing.T) {
	svc := &RecordingSyncService{}
	guards := make(chan *RunGuard, 8)
	var wg sync.WaitGroup
	for i := 0; i < cap(guards); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			guards <- svc.guard()
		}()
	}
	wg.Wait()
	close(guards)
	first := svc.guard()
	for g := range guards {
		if g != first {
			t.Fatalf("guard created more than once")
		}
	}
}
