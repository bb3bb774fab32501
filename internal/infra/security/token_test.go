package security

import (
	"regexp"
	"testing"
)

func TestGenerateSecureToken(t *testing.T) {
	token, err := GenerateSecureToken(32)
	if err != nil {
		t.Fatalf("GenerateSecureToken returned error: %v", err)
	}
	if len(token) < 32 {
		t.Fatalf("token too short: %d", len(token))
	}

	other, err := GenerateSecureToken(32)
	if err != nil {
		t.Fatalf("GenerateSecureToken returned error: %v", err)
	}
	if token == other {
		t.Fatal("two tokens must differ")
	}

	if _, err := GenerateSecureToken(0); err == nil {
		t.Fatal("zero length must error")
	}
}

func TestGenerateRecoveryCodeFormat(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-Z2-7]{5}-[A-Z2-7]{5}$`)

	for i := 0; i < 20; i++ {
		code, err := GenerateRecoveryCode()
		if err != nil {
			t.Fatalf("GenerateRecoveryCode returned error: %v", err)
		}
		if !pattern.MatchString(code) {
			t.Fatalf("unexpected code format: %s", code)
		}
	}
}

func TestNormalizeRecoveryCode(t *testing.T) {
	if got := NormalizeRecoveryCode("  abcde-12345 \n"); got != "ABCDE-12345" {
		t.Fatalf("NormalizeRecoveryCode = %q", got)
	}
}

func TestHashTokenDeterministic(t *testing.T) {
	first := HashToken("some-value")
	second := HashToken("some-value")
	if first != second {
		t.Fatal("hash must be deterministic")
	}
	if len(first) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(first))
	}
	if HashToken("other-value") == first {
		t.Fatal("different inputs must hash differently")
	}
}
