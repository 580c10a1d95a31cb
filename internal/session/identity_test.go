package session

import "testing"

func TestNewProducesDistinctIdentities(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Equal(b) {
		t.Fatal("two independently generated identities collided")
	}
	if a.IsZero() || b.IsZero() {
		t.Fatal("generated identity should never be the zero value")
	}
}

func TestFromBytesRoundTrip(t *testing.T) {
	a, _ := New()
	b, err := FromBytes(a.Bytes())
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if !a.Equal(b) {
		t.Fatal("round trip through Bytes()/FromBytes() changed the identity")
	}
}

func TestFromBytesRejectsWrongLength(t *testing.T) {
	if _, err := FromBytes(make([]byte, 15)); err == nil {
		t.Fatal("expected error for short payload")
	}
	if _, err := FromBytes(make([]byte, 17)); err == nil {
		t.Fatal("expected error for long payload")
	}
}
