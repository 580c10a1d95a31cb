//go:build !windows

package mux

import (
	"os"
	"testing"
)

func TestWaitReportsReadableAfterWrite(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	rfd := int(r.Fd())

	ready, err := Wait([]int{rfd}, nil)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if ready.IsReadable(rfd) {
		t.Fatal("empty pipe reported readable before any write")
	}

	if _, err := w.Write([]byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	ready, err = Wait([]int{rfd}, nil)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !ready.IsReadable(rfd) {
		t.Fatal("expected pipe to be readable after a write")
	}
}

func TestWaitReportsWritableForFreshPipe(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	wfd := int(w.Fd())

	ready, err := Wait(nil, []int{wfd})
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !ready.IsWritable(wfd) {
		t.Fatal("expected a fresh pipe's write end to be writable")
	}
}

func TestWaitTimesOutWithEmptyReady(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	rfd := int(r.Fd())
	ready, err := Wait([]int{rfd}, nil)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if ready.Readable == nil || ready.Writable == nil {
		t.Fatal("Ready maps should be non-nil even on timeout")
	}
	if len(ready.Readable) != 0 {
		t.Fatal("expected no descriptors ready before any write")
	}
}

func TestSelectedFiltersWantedInterests(t *testing.T) {
	got := Selected([]Interest{
		{FD: 3, Want: true},
		{FD: 4, Want: false},
		{FD: 5, Want: true},
	})
	if len(got) != 2 || got[0] != 3 || got[1] != 5 {
		t.Fatalf("Selected = %v, want [3 5]", got)
	}
}
