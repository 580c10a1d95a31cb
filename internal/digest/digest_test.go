package digest

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestMD5KnownVector(t *testing.T) {
	r := New()
	r.Feed([]byte("hello world"))
	got := hex.EncodeToString(r.MD5())
	want := "5eb63bbbe01eeed093cb22bb8f5acdc3"
	if got != want {
		t.Fatalf("MD5() = %s, want %s", got, want)
	}
}

func TestFeedIsIncremental(t *testing.T) {
	whole := New()
	whole.Feed([]byte("hello world"))

	split := New()
	split.Feed([]byte("hello "))
	split.Feed([]byte("world"))

	if !bytes.Equal(whole.MD5(), split.MD5()) {
		t.Fatal("incremental feed produced a different digest than one-shot feed")
	}
}

func TestSHA1OptionalByDefault(t *testing.T) {
	r := New()
	if r.HasSHA1() {
		t.Fatal("SHA1 should not be tracked by default")
	}
	if r.SHA1() != nil {
		t.Fatal("SHA1() should return nil when not enabled")
	}
}

func TestSHA1WhenEnabled(t *testing.T) {
	r := New(WithSHA1(true))
	r.Feed([]byte("hello world"))
	if !r.HasSHA1() {
		t.Fatal("expected SHA1 tracking to be enabled")
	}
	got := hex.EncodeToString(r.SHA1())
	want := "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed"
	if got != want {
		t.Fatalf("SHA1() = %s, want %s", got, want)
	}
}
