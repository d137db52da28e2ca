package security

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"
)

func TestDeriveHandshakeHash_KnownVector(t *testing.T) {
	c := NewCryptoService()
	sum := sha256.Sum256([]byte("org-1" + "txn-1" + "sess-1" + "dev-1"))
	want := hex.EncodeToString(sum[:])
	got := c.DeriveHandshakeHash("org-1", "txn-1", "sess-1", "dev-1")
	if got != want {
		t.Errorf("DeriveHandshakeHash = %q, want %q", got, want)
	}
}

func TestDeriveHandshakeHash_Deterministic(t *testing.T) {
	c := NewCryptoService()
	tuples := [][4]string{
		{"org-1", "txn-1", "sess-1", "dev-1"},
		{"", "", "", ""},
		{"a", "b", "c", "d"},
		{"org with spaces", "txn/2", "sess:3", "dév-4"},
	}
	for _, tc := range tuples {
		h1 := c.DeriveHandshakeHash(tc[0], tc[1], tc[2], tc[3])
		h2 := c.DeriveHandshakeHash(tc[0], tc[1], tc[2], tc[3])
		if h1 != h2 {
			t.Errorf("DeriveHandshakeHash%v not deterministic: %q vs %q", tc, h1, h2)
		}
		if len(h1) != 64 {
			t.Errorf("hash length = %d, want 64", len(h1))
		}
	}
}

func TestDeriveHandshakeHash_OrderMatters(t *testing.T) {
	c := NewCryptoService()
	canonical := c.DeriveHandshakeHash("org-1", "txn-1", "sess-1", "dev-1")
	swapped := c.DeriveHandshakeHash("org-1", "sess-1", "txn-1", "dev-1")
	if canonical == swapped {
		t.Error("field order must change the digest")
	}
	threeFields := c.DeriveHandshakeHash("org-1", "txn-1", "sess-1", "")
	if canonical == threeFields {
		t.Error("omitting the device id must change the digest")
	}
}

func TestVerifyHandshakeHash(t *testing.T) {
	c := NewCryptoService()
	h := c.DeriveHandshakeHash("org-1", "txn-1", "sess-1", "dev-1")
	if !c.VerifyHandshakeHash(h, "org-1", "txn-1", "sess-1", "dev-1") {
		t.Error("VerifyHandshakeHash should accept the derived digest")
	}
	cases := []struct {
		name      string
		candidate string
	}{
		{"empty", ""},
		{"uppercase", "A" + h[1:]},
		{"truncated", h[:63]},
		{"different content", "0" + h[1:]},
		{"three-field digest", c.DeriveHandshakeHash("org-1", "txn-1", "sess-1", "")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.candidate == h {
				t.Skip("candidate collides with digest")
			}
			if c.VerifyHandshakeHash(tc.candidate, "org-1", "txn-1", "sess-1", "dev-1") {
				t.Errorf("VerifyHandshakeHash(%q) = true, want false", tc.candidate)
			}
		})
	}
}

func TestNewSessionToken_Shape(t *testing.T) {
	c := NewCryptoService()
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		tok, err := c.NewSessionToken()
		if err != nil {
			t.Fatalf("NewSessionToken: %v", err)
		}
		if !IsWellFormedToken(tok) {
			t.Fatalf("token %q is not well formed", tok)
		}
		if seen[tok] {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = true
	}
}

func TestNewBatchID_Shape(t *testing.T) {
	c := NewCryptoService()
	id, err := c.NewBatchID()
	if err != nil {
		t.Fatalf("NewBatchID: %v", err)
	}
	if len(id) != 32 {
		t.Errorf("batch id length = %d, want 32", len(id))
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestNewSessionToken_RandomFailure(t *testing.T) {
	c := &CryptoService{random: failingReader{}, nowF: time.Now}
	if _, err := c.NewSessionToken(); err == nil {
		t.Fatal("NewSessionToken should surface reader errors")
	}
}

func TestNewSessionToken_UsesReader(t *testing.T) {
	c := &CryptoService{random: bytes.NewReader(bytes.Repeat([]byte{0xab}, 32)), nowF: time.Now}
	tok, err := c.NewSessionToken()
	if err != nil {
		t.Fatalf("NewSessionToken: %v", err)
	}
	want := ""
	for i := 0; i < 32; i++ {
		want += "ab"
	}
	if tok != want {
		t.Errorf("token = %q, want %q", tok, want)
	}
}

func TestIsWellFormedToken(t *testing.T) {
	valid := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	cases := []struct {
		token string
		want  bool
	}{
		{valid, true},
		{"", false},
		{valid[:63], false},
		{valid + "0", false},
		{"0123456789ABCDEF0123456789abcdef0123456789abcdef0123456789abcdef", false},
		{"g123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef", false},
		{"0123456789abcdef0123456789abcdef 123456789abcdef0123456789abcdef", false},
	}
	for _, tc := range cases {
		if got := IsWellFormedToken(tc.token); got != tc.want {
			t.Errorf("IsWellFormedToken(%q) = %v, want %v", tc.token, got, tc.want)
		}
	}
}

func TestVerifyTimestampedHash_Window(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	c := &CryptoService{nowF: func() time.Time { return now }}
	ts := now.UnixMilli() - 10_000
	digest := c.TimestampedHash("batch-1", ts)

	if !c.VerifyTimestampedHash(digest, "batch-1", ts, 0) {
		t.Error("digest inside default window should verify")
	}
	if c.VerifyTimestampedHash(digest, "batch-2", ts, 0) {
		t.Error("digest over different data must not verify")
	}
	if c.VerifyTimestampedHash(digest, "batch-1", ts, 5*time.Second) {
		t.Error("digest outside a 5s window must not verify")
	}

	future := now.UnixMilli() + 31_000
	if c.VerifyTimestampedHash(c.TimestampedHash("batch-1", future), "batch-1", future, 0) {
		t.Error("timestamps too far in the future must not verify")
	}
	edge := now.UnixMilli() - 30_000
	if !c.VerifyTimestampedHash(c.TimestampedHash("batch-1", edge), "batch-1", edge, 0) {
		t.Error("timestamp exactly at the window boundary should verify")
	}
}
