package security

import "testing"

func TestHashToken_Consistent(t *testing.T) {
	token := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	hash1 := HashToken(token)
	hash2 := HashToken(token)
	if hash1 != hash2 {
		t.Errorf("HashToken not consistent: hash1 = %q, hash2 = %q", hash1, hash2)
	}
	if len(hash1) != 64 {
		t.Errorf("hash length = %d, want 64 (SHA-256 hex)", len(hash1))
	}
	if hash1 == token {
		t.Error("HashToken must not return the token itself")
	}
}

func TestTokenHashEqual(t *testing.T) {
	token := "token-a"
	stored := HashToken(token)
	if !TokenHashEqual(token, stored) {
		t.Error("TokenHashEqual should match correct token")
	}
	if TokenHashEqual("token-b", stored) {
		t.Error("TokenHashEqual should reject incorrect token")
	}
	if TokenHashEqual(token, "a"+stored) {
		t.Error("TokenHashEqual should reject hash with different length")
	}
	if TokenHashEqual("", "") {
		t.Error("TokenHashEqual should not match an empty stored hash")
	}
}
