package executionclient

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/flashbots/engine-relay/common"
	"github.com/golang-jwt/jwt/v4"
)

// JWTMaxClockSkew is the allowed distance between a token's iat claim and the verifier's clock
const JWTMaxClockSkew = 60 * time.Second

var (
	ErrMissingAuthHeader       = errors.New("missing bearer token")
	ErrUnexpectedSigningMethod = errors.New("unexpected JWT signing method")
	ErrMissingIssuedAt         = errors.New("JWT token has no iat claim")
	ErrStaleToken              = errors.New("JWT token iat is outside the allowed window")
)

// NewJWTAuth returns an rpc.HTTPAuth that stamps every request with a freshly signed token
func NewJWTAuth(secret common.JWTSecret) (rpc.HTTPAuth, error) {
	if secret.IsZero() {
		return nil, fmt.Errorf("%w: secret is empty", common.ErrInvalidJWTSecret)
	}
	return func(h http.Header) error {
		token, err := NewJWTToken(secret, time.Now())
		if err != nil {
			return fmt.Errorf("failed to create JWT token: %w", err)
		}
		h.Set("Authorization", "Bearer "+token)
		return nil
	}, nil
}

// NewJWTToken signs an HS256 token with the iat claim set to now
func NewJWTToken(secret common.JWTSecret, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		IssuedAt: jwt.NewNumericDate(now),
	})
	return token.SignedString(secret[:])
}

// ValidateJWTToken checks the signature and the iat window of a token
func ValidateJWTToken(secret common.JWTSecret, tokenStr string, now time.Time) error {
	claims := new(jwt.RegisteredClaims)
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	_, err := parser.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnexpectedSigningMethod
		}
		return secret[:], nil
	})
	if err != nil {
		return err
	}
	if claims.IssuedAt == nil {
		return ErrMissingIssuedAt
	}
	skew := now.Sub(claims.IssuedAt.Time)
	if skew > JWTMaxClockSkew || skew < -JWTMaxClockSkew {
		return ErrStaleToken
	}
	return nil
}

// ValidateJWTRequest validates the bearer token of an incoming request
func ValidateJWTRequest(secret common.JWTSecret, r *http.Request) error {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ErrMissingAuthHeader
	}
	return ValidateJWTToken(secret, strings.TrimPrefix(header, "Bearer "), time.Now())
}
