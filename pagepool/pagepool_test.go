package pagepool

import "testing"

func TestNewRoundsUsableSize(t *testing.T) {
	pool, err := New(4, 64*1024)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if pool.UsableSize() != 32*1024 {
		t.Fatalf("usable size = %d, want 32KiB", pool.UsableSize())
	}
}

func TestNewConfigErrorOnZeroUsable(t *testing.T) {
	if _, err := New(1, HeaderReserve+1024); err != ErrConfig {
		t.Fatalf("want ErrConfig, got %v", err)
	}
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	pool, _ := New(2, 64*1024)
	p1, ok := pool.Acquire()
	if !ok {
		t.Fatal("acquire should succeed")
	}
	p2, ok := pool.Acquire()
	if !ok {
		t.Fatal("second acquire should succeed")
	}
	if _, ok := pool.Acquire(); ok {
		t.Fatal("pool should be empty now")
	}
	if err := pool.Release(p1); err != nil {
		t.Fatalf("release p1: %v", err)
	}
	if err := pool.Release(p2); err != nil {
		t.Fatalf("release p2: %v", err)
	}
	if pool.Capacity() != 2 {
		t.Fatalf("capacity changed: %d", pool.Capacity())
	}
}

func TestDoubleReleaseIsError(t *testing.T) {
	pool, _ := New(1, 64*1024)
	p, _ := pool.Acquire()
	if err := pool.Release(p); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := pool.Release(p); err == nil {
		t.Fatal("double release should error")
	}
}

func TestIsValidDetectsStalePage(t *testing.T) {
	pool, _ := New(1, 64*1024)
	p, _ := pool.Acquire()
	if !pool.IsValid(p) {
		t.Fatal("acquired page should be valid")
	}
	pool.Release(p)
	if pool.IsValid(p) {
		t.Fatal("released page should no longer be valid under its old ref")
	}
}

func TestPageRefReleasesOnLastReference(t *testing.T) {
	pool, _ := New(1, 64*1024)
	p, _ := pool.Acquire()
	ref := pool.Wrap(p)
	ref2 := ref.Retain()

	if err := ref.Release(); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if !pool.IsValid(p) {
		t.Fatal("page should still be held by second reference")
	}
	if err := ref2.Release(); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if pool.IsValid(p) {
		t.Fatal("page should be returned to pool after last release")
	}
}
