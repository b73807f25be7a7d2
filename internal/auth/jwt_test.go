package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestCreateAndVerifyToken(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	tok, err := CreateToken("alice", cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	v, err := NewJWTVerifier(cfg)
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}
	principal, err := v.VerifyToken(tok)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if principal != "alice" {
		t.Fatalf("expected alice, got %q", principal)
	}
}

func TestVerifyToken_Rejects(t *testing.T) {
	cfg := TokenConfig{Secret: "secret", Expiry: time.Hour, Issuer: "test"}
	good, err := CreateToken("alice", cfg)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	expired := signClaims(t, "secret", jwt.RegisteredClaims{
		Issuer:    "test",
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	noExpiry := signClaims(t, "secret", jwt.RegisteredClaims{Issuer: "test", Subject: "alice"})
	noSubject := signClaims(t, "secret", jwt.RegisteredClaims{
		Issuer:    "test",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "test",
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing none token: %v", err)
	}

	tests := []struct {
		name  string
		cfg   TokenConfig
		token string
	}{
		{"wrong secret", TokenConfig{Secret: "wrong", Issuer: "test"}, good},
		{"wrong issuer", TokenConfig{Secret: "secret", Issuer: "other"}, good},
		{"expired", cfg, expired},
		{"no expiry", cfg, noExpiry},
		{"no subject", cfg, noSubject},
		{"alg none", cfg, none},
		{"garbage", cfg, "not-a-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := NewJWTVerifier(tt.cfg)
			if err != nil {
				t.Fatalf("NewJWTVerifier: %v", err)
			}
			if _, err := v.VerifyToken(tt.token); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestCreateToken_InvalidConfig(t *testing.T) {
	tests := []struct {
		name     string
		username string
		cfg      TokenConfig
	}{
		{"missing secret", "alice", TokenConfig{Expiry: time.Hour}},
		{"missing username", "", TokenConfig{Secret: "s", Expiry: time.Hour}},
		{"negative expiry", "alice", TokenConfig{Secret: "s", Expiry: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := CreateToken(tt.username, tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func signClaims(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: claims}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	return tok
}
