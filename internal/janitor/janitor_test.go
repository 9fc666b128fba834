package janitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeExpirer struct {
	calls   atomic.Int32
	maxIdle atomic.Int64
	err     error
}

func (f *fakeExpirer) ExpireStale(ctx context.Context, maxIdle time.Duration) (int, error) {
	f.calls.Add(1)
	f.maxIdle.Store(int64(maxIdle))
	return 1, f.err
}

func TestBadSchedule(t *testing.T) {
	if _, err := New(&fakeExpirer{}, "every now and then", time.Hour); err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func TestRun(t *testing.T) {
	f := &fakeExpirer{}
	j, err := New(f, "@every 1h", 6*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	j.Run()
	if f.calls.Load() != 1 || time.Duration(f.maxIdle.Load()) != 6*time.Hour {
		t.Fatalf("calls=%d maxIdle=%s", f.calls.Load(), time.Duration(f.maxIdle.Load()))
	}

	f.err = errors.New("store down")
	j.Run() // logged, not fatal
	if f.calls.Load() != 2 {
		t.Fatalf("calls = %d", f.calls.Load())
	}
}

func TestSchedule(t *testing.T) {
	f := &fakeExpirer{}
	j, err := New(f, "@every 1s", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	j.Start()
	defer j.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for f.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("scheduled job never ran")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
