package pmm

import (
	"math"
	"testing"
)

func TestPageStatus(t *testing.T) {
	var s PageStatus

	if !s.IsFree() || s.IsUsed() {
		t.Fatal("expected zero PageStatus to be free")
	}

	for exp := uint32(1); exp <= 3; exp++ {
		got, err := s.Inc()
		if err != nil {
			t.Fatal(err)
		}
		if got != exp {
			t.Fatalf("expected Inc to return %d; got %d", exp, got)
		}
	}

	if !s.IsUsed() || s.Used() != 3 {
		t.Fatalf("expected status to be used with counter 3; got %d", s.Used())
	}

	for exp := uint32(2); ; exp-- {
		got, err := s.Dec()
		if err != nil {
			t.Fatal(err)
		}
		if got != exp {
			t.Fatalf("expected Dec to return %d; got %d", exp, got)
		}
		if exp == 0 {
			break
		}
	}

	if _, err := s.Dec(); err != ErrStatusUnderflow {
		t.Fatalf("expected ErrStatusUnderflow; got %v", err)
	}

	if s.Used() != 0 {
		t.Fatalf("expected failed Dec to leave counter at 0; got %d", s.Used())
	}
}

func TestPageStatusSaturation(t *testing.T) {
	s := PageStatus{used: math.MaxUint32 - 1}

	if got, err := s.Inc(); err != nil || got != math.MaxUint32 {
		t.Fatalf("expected Inc to return %d; got %d, %v", uint32(math.MaxUint32), got, err)
	}

	got, err := s.Inc()
	if err != ErrStatusOverflow {
		t.Fatalf("expected ErrStatusOverflow; got %v", err)
	}
	if got != math.MaxUint32 || s.IsFree() {
		t.Fatalf("expected saturated counter to stay at %d; got %d", uint32(math.MaxUint32), s.Used())
	}
}
