package clock

import (
	"testing"
	"time"
)

func TestMock_AdvanceAndSet(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewMock(start)

	if !m.Now().Equal(start) {
		t.Fatalf("Now() = %v, want %v", m.Now(), start)
	}

	m.Advance(90 * time.Second)
	if got := m.Now().Sub(start); got != 90*time.Second {
		t.Errorf("after Advance, elapsed = %v, want 90s", got)
	}

	later := start.Add(24 * time.Hour)
	m.Set(later)
	if !m.Now().Equal(later) {
		t.Errorf("after Set, Now() = %v, want %v", m.Now(), later)
	}
}

func TestNewMock_ZeroUsesCurrentTime(t *testing.T) {
	before := time.Now()
	m := NewMock(time.Time{})
	if m.Now().Before(before) {
		t.Errorf("zero-initialised mock should start at the current time")
	}
}

func TestOrReal(t *testing.T) {
	if _, ok := OrReal(nil).(Real); !ok {
		t.Error("OrReal(nil) should return a Real clock")
	}
	m := NewMock(time.Time{})
	if OrReal(m) != Clock(m) {
		t.Error("OrReal should return the given clock unchanged")
	}
}
