package auth

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, "acct:avery@example.com", "Avery", []string{"g1"}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "acct:avery@example.com" || claims.Name != "Avery" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.CanFocus("g1") || claims.CanFocus("g2") {
		t.Fatalf("expected focus limited to g1, got %v", claims.Groups)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, "acct:avery@example.com", "Avery", nil, -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err = ParseToken(secret, issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("ParseToken() error = %v, want ErrExpiredToken", err)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	issued, err := IssueToken([]byte("secret"), "acct:avery@example.com", "", nil, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err = ParseToken([]byte("other"), issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("ParseToken() error = %v, want ErrInvalidToken", err)
	}
	if _, err = ParseToken([]byte("secret"), "not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("ParseToken() garbage error = %v, want ErrInvalidToken", err)
	}
}

func TestIssueTokenRequiresUser(t *testing.T) {
	if _, err := IssueToken([]byte("secret"), " ", "", nil, time.Hour); err == nil {
		t.Fatal("expected an error without a user")
	}
}

func TestEmptyGroupsAllowEverything(t *testing.T) {
	if !(Claims{}).CanFocus("anything") {
		t.Fatal("expected unrestricted claims to focus any group")
	}
}
