package security

import (
	"strings"
	"testing"
)

func TestHasher_HashAndCompare(t *testing.T) {
	h := NewHasher(4)
	secret := []byte("secret123")
	hash, err := h.Hash(secret)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hash == "" {
		t.Fatal("Hash returned empty")
	}
	if err := h.Compare(hash, secret); err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if err := h.Compare(hash, []byte("wrong")); err == nil {
		t.Fatal("Compare with wrong secret should fail")
	}
}

func TestHasher_Cost(t *testing.T) {
	h := NewHasher(12)
	if h.Cost != 12 {
		t.Errorf("Cost want 12, got %d", h.Cost)
	}
	h0 := NewHasher(0)
	if h0.Cost < 4 {
		t.Errorf("zero cost should be clamped to at least MinCost, got %d", h0.Cost)
	}
	hMax := NewHasher(99)
	if hMax.Cost > 31 {
		t.Errorf("cost should be clamped to MaxCost, got %d", hMax.Cost)
	}
}

func TestHasher_NewAPIKey(t *testing.T) {
	h := NewHasher(4)
	key, hash, err := h.NewAPIKey("org-1")
	if err != nil {
		t.Fatalf("NewAPIKey: %v", err)
	}
	if !strings.HasPrefix(key, "org-1.") {
		t.Errorf("key %q should start with the org id", key)
	}
	orgID, secret, err := SplitAPIKey(key)
	if err != nil {
		t.Fatalf("SplitAPIKey: %v", err)
	}
	if orgID != "org-1" {
		t.Errorf("orgID = %q, want org-1", orgID)
	}
	if err := h.Compare(hash, []byte(secret)); err != nil {
		t.Errorf("secret should match stored hash: %v", err)
	}
}

func TestSplitAPIKey(t *testing.T) {
	cases := []struct {
		key     string
		org     string
		secret  string
		wantErr bool
	}{
		{"org-1.abc", "org-1", "abc", false},
		{"acme.eu.abc", "acme.eu", "abc", false},
		{"  org-1.abc  ", "org-1", "abc", false},
		{"", "", "", true},
		{"noseparator", "", "", true},
		{".abc", "", "", true},
		{"org-1.", "", "", true},
	}
	for _, tc := range cases {
		org, secret, err := SplitAPIKey(tc.key)
		if tc.wantErr {
			if err != ErrMalformedAPIKey {
				t.Errorf("SplitAPIKey(%q) err = %v, want ErrMalformedAPIKey", tc.key, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("SplitAPIKey(%q): %v", tc.key, err)
			continue
		}
		if org != tc.org || secret != tc.secret {
			t.Errorf("SplitAPIKey(%q) = (%q, %q), want (%q, %q)", tc.key, org, secret, tc.org, tc.secret)
		}
	}
}
