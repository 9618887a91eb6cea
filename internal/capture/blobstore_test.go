package capture

import (
	"strings"
	"testing"
)

func TestBlobStorePutOpenRevoke(t *testing.T) {
	s := NewBlobStore()
	h := s.Put([]byte("clip"), "video/webm")

	if !strings.HasPrefix(string(h), "blob:") {
		t.Fatalf("handle %q lacks blob: prefix", h)
	}
	if _, ok := ParseHandle(string(h)); !ok {
		t.Fatalf("ParseHandle rejected its own handle %q", h)
	}
	data, mime, ok := s.Open(h)
	if !ok || string(data) != "clip" || mime != "video/webm" {
		t.Fatalf("Open = %q, %q, %v", data, mime, ok)
	}
	if other := s.Put([]byte("clip"), "video/webm"); other == h {
		t.Fatal("handles must be unique per Put")
	}
	if s.Len() != 2 {
		t.Fatalf("Len = %d", s.Len())
	}

	if !s.Revoke(h) {
		t.Fatal("Revoke of a live handle reported false")
	}
	if s.Revoke(h) {
		t.Fatal("second Revoke reported true")
	}
	if _, _, ok := s.Open(h); ok {
		t.Fatal("revoked handle still dereferences")
	}
}

func TestParseHandle(t *testing.T) {
	for _, bad := range []string{"", "blob:", "blob:not-a-uuid", "9b2e3c1e-0000-4000-8000-000000000000", "file:9b2e3c1e-0000-4000-8000-000000000000"} {
		if _, ok := ParseHandle(bad); ok {
			t.Errorf("ParseHandle(%q) accepted", bad)
		}
	}
	if _, ok := ParseHandle("blob:9b2e3c1e-0000-4000-8000-000000000000"); !ok {
		t.Error("ParseHandle rejected a valid handle")
	}
}
