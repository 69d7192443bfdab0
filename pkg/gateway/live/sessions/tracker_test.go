package sessions

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestTracker_RegisterUnregister_CountAndWait(t *testing.T) {
	tr := NewTracker()
	if tr.Count() != 0 {
		t.Fatalf("initial count=%d, want 0", tr.Count())
	}

	id1, u1 := tr.Register(Handle{SessionID: "s1", Channel: "chat"})
	id2, u2 := tr.Register(Handle{SessionID: "s1", Channel: "voice"})
	if id1 == id2 {
		t.Fatalf("connection ids collide: %q", id1)
	}
	if tr.Count() != 2 {
		t.Fatalf("count=%d, want 2", tr.Count())
	}
	if n := tr.CountSession("s1"); n != 2 {
		t.Fatalf("session count=%d, want 2", n)
	}

	u1()
	u1() // idempotent
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}

	u2()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if ok := tr.Wait(ctx); !ok {
		t.Fatalf("expected Wait to return true")
	}
	if tr.Count() != 0 {
		t.Fatalf("count=%d, want 0", tr.Count())
	}
}

func TestTracker_WaitTimesOutWithOpenConnections(t *testing.T) {
	tr := NewTracker()
	tr.Register(Handle{SessionID: "s1"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if tr.Wait(ctx) {
		t.Fatalf("expected Wait to time out")
	}
}

func TestTracker_CancelAll_CallsCancel(t *testing.T) {
	tr := NewTracker()
	var c1, c2 atomic.Int64
	tr.Register(Handle{SessionID: "s1", Cancel: func() { c1.Add(1) }})
	tr.Register(Handle{SessionID: "s2", Cancel: func() { c2.Add(1) }})

	if n := tr.CancelAll(); n != 2 {
		t.Fatalf("canceled=%d, want 2", n)
	}
	if c1.Load() != 1 || c2.Load() != 1 {
		t.Fatalf("cancel calls=%d/%d, want 1/1", c1.Load(), c2.Load())
	}
}

func TestTracker_WarnAll_BestEffort(t *testing.T) {
	tr := NewTracker()
	var w1, w2 atomic.Int64
	tr.Register(Handle{SessionID: "s1", Warn: func(message string) error {
		w1.Add(1)
		return nil
	}})
	tr.Register(Handle{SessionID: "s2", Warn: func(message string) error {
		w2.Add(1)
		return errors.New("nope")
	}})

	if sent := tr.WarnAll("server shutting down"); sent != 2 {
		t.Fatalf("sent=%d, want 2", sent)
	}
	if w1.Load() != 1 || w2.Load() != 1 {
		t.Fatalf("warn calls=%d/%d, want 1/1", w1.Load(), w2.Load())
	}
}
