package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSupervisor_CeilingFires(t *testing.T) {
	var fired atomic.Bool
	s := NewSupervisor(time.Millisecond, 10*time.Millisecond, func() { fired.Store(true) })

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not expire")
	}
	if !fired.Load() {
		t.Error("expiry callback never fired")
	}
}

func TestSupervisor_ResetDefersExpiry(t *testing.T) {
	var fired atomic.Bool
	s := NewSupervisor(5*time.Millisecond, 50*time.Millisecond, func() { fired.Store(true) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// Keep resetting well inside the ceiling; the clock must never expire.
	for i := 0; i < 10; i++ {
		time.Sleep(20 * time.Millisecond)
		s.Reset()
	}
	if fired.Load() {
		t.Error("supervisor expired despite resets")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop on cancel")
	}
	if fired.Load() {
		t.Error("expiry fired after cancellation")
	}
}

func TestSupervisor_Elapsed(t *testing.T) {
	s := NewSupervisor(time.Second, 600*time.Second, func() {})
	if s.Elapsed() != 0 {
		t.Errorf("Elapsed() = %#v, want 0", s.Elapsed())
	}
	s.mu.Lock()
	s.elapsed = 30 * time.Second
	s.mu.Unlock()
	s.Reset()
	if s.Elapsed() != 0 {
		t.Errorf("Elapsed() after Reset = %#v, want 0", s.Elapsed())
	}
}
