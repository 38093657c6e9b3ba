// Package auth verifies the bearer tokens that carry a caller's identity and
// capability set. Issuing tokens for real users belongs to the surrounding
// platform; Mint exists for development and the packctl CLI.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"prearrival/api/internal/rbac"
	"prearrival/api/internal/util"
)

type Claims struct {
	Sub          string   `json:"sub"`
	Name         string   `json:"name"`
	Email        string   `json:"email,omitempty"`
	Capabilities []string `json:"caps"`
	JTI          string   `json:"jti"`
	Exp          int64    `json:"exp"`
}

func (c Claims) Caps() rbac.Capabilities {
	return rbac.Parse(c.Capabilities)
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

func IssueToken(secret []byte, claims Claims) (string, error) {
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	signature := sign(secret, payload)
	return payload + "." + signature, nil
}

// Mint issues a token for subject with the given capabilities valid for ttl.
func Mint(secret []byte, subject, name string, caps []string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject is required")
	}
	if name == "" {
		name = subject
	}
	return IssueToken(secret, Claims{
		Sub:          subject,
		Name:         name,
		Capabilities: caps,
		JTI:          util.NewID("jti"),
		Exp:          time.Now().Add(ttl).Unix(),
	})
}

func ParseToken(secret []byte, token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return Claims{}, ErrInvalidToken
	}
	payload := parts[0]
	signature := parts[1]

	expected := sign(secret, payload)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return Claims{}, ErrInvalidToken
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	var claims Claims
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if claims.Sub == "" || claims.Name == "" || claims.JTI == "" || claims.Exp == 0 {
		return Claims{}, ErrInvalidToken
	}
	if time.Now().Unix() >= claims.Exp {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

func sign(secret []byte, payload string) string {
	sum := hmac.New(sha256.New, secret)
	_, _ = sum.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(sum.Sum(nil))
}
