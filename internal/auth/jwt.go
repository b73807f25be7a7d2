// Package auth is the identity collaborator of the ingestion gateway: it
// issues and verifies bearer tokens and resolves them to a principal name.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the principal (username) in the subject.
type Claims struct {
	jwt.RegisteredClaims
}

type TokenConfig struct {
	Secret string
	Expiry time.Duration
	Issuer string
}

// CreateToken signs an HS256 token for username.
func CreateToken(username string, cfg TokenConfig) (string, error) {
	if cfg.Secret == "" {
		return "", errors.New("missing secret")
	}
	if username == "" {
		return "", errors.New("missing username")
	}
	if cfg.Expiry <= 0 {
		return "", errors.New("invalid expiry")
	}

	jtiBytes := make([]byte, 16)
	if _, err := rand.Read(jtiBytes); err != nil {
		return "", err
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.Expiry)),
			ID:        hex.EncodeToString(jtiBytes),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Secret))
}

// Verifier resolves a bearer token to a principal name.
type Verifier interface {
	VerifyToken(token string) (string, error)
}

// JWTVerifier accepts tokens produced by CreateToken with the same secret
// and, when set, the same issuer.
type JWTVerifier struct {
	cfg TokenConfig
}

func NewJWTVerifier(cfg TokenConfig) (*JWTVerifier, error) {
	if cfg.Secret == "" {
		return nil, errors.New("missing secret")
	}
	return &JWTVerifier{cfg: cfg}, nil
}

func (v *JWTVerifier) VerifyToken(tokenString string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		return []byte(v.cfg.Secret), nil
	}, opts...)
	if err != nil {
		return "", err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", jwt.ErrSignatureInvalid
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token has no subject: %w", jwt.ErrTokenInvalidClaims)
	}
	return claims.Subject, nil
}

var _ Verifier = (*JWTVerifier)(nil)
