package auth

import (
	"errors"
	"testing"
	"time"

	"prearrival/api/internal/rbac"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:          "user-1",
		Name:         "Chief Officer",
		Capabilities: []string{"prearrival:upload"},
		JTI:          "jti-1",
		Exp:          time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Sub != "user-1" || claims.Name != "Chief Officer" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.Caps().Has(rbac.CapUpload) || claims.Caps().Has(rbac.CapVerify) {
		t.Fatalf("unexpected capabilities: %v", claims.Capabilities)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:  "user-1",
		Name: "Chief Officer",
		JTI:  "jti-1",
		Exp:  time.Now().Add(-time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsOtherSecret(t *testing.T) {
	issued, err := Mint([]byte("secret"), "ops", "", []string{"*:*"}, time.Hour)
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	if _, err := ParseToken([]byte("other"), issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	claims, err := ParseToken([]byte("secret"), issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Name != "ops" || !claims.Caps().Privileged() {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}
