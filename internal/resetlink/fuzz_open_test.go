package resetlink

import (
	"bytes"
	"testing"
	"time"
)

// FuzzOpen feeds arbitrary strings to Open.
// Goal: no panics; anything but a sealed token is rejected.
func FuzzOpen(f *testing.F) {
	f.Add("")
	f.Add("abc")
	f.Add("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")

	s, err := NewSealer(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		f.Fatal(err)
	}
	if p, err := s.NewPayload("acme", 1, "ann@example.com", time.Hour); err == nil {
		if tok, err := s.Seal(p); err == nil {
			f.Add(tok)
			f.Add(tok[:len(tok)/2])
			f.Add(tok + "x")
		}
	}

	f.Fuzz(func(t *testing.T, token string) {
		p, err := s.Open(token)
		if err != nil {
			return
		}
		// Only a token sealed above can open, and it must round-trip.
		again, err := s.Seal(p)
		if err != nil {
			t.Fatalf("reseal failed: %v", err)
		}
		if _, err := s.Open(again); err != nil {
			t.Fatalf("resealed token did not open: %v", err)
		}
	})
}
