package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	accessTokenTTL  = 15 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour

	typeAccess  = "access"
	typeRefresh = "refresh"
)

var ErrInvalidToken = errors.New("token invalid")

// Signer issues and verifies HS256 tokens carrying the user id and the
// user's token version. Bumping the version revokes every issued token.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

type Claims struct {
	UserID       uint64 `json:"user_id"`
	TokenVersion uint64 `json:"token_version"`
	Type         string `json:"type"`
	jwt.RegisteredClaims
}

func (s *Signer) GenerateAccessToken(userID, tokenVersion uint64) (string, error) {
	return s.generate(userID, tokenVersion, typeAccess, accessTokenTTL)
}

func (s *Signer) GenerateRefreshToken(userID, tokenVersion uint64) (string, error) {
	return s.generate(userID, tokenVersion, typeRefresh, refreshTokenTTL)
}

func (s *Signer) generate(userID, tokenVersion uint64, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:       userID,
		TokenVersion: tokenVersion,
		Type:         tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// VerifyAccessToken returns the claims of a valid access token.
func (s *Signer) VerifyAccessToken(tokenString string) (*Claims, error) {
	return s.verify(tokenString, typeAccess)
}

func (s *Signer) VerifyRefreshToken(tokenString string) (*Claims, error) {
	return s.verify(tokenString, typeRefresh)
}

func (s *Signer) verify(tokenString, tokenType string) (*Claims, error) {
	claims := &Claims{}
	jwtToken, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	if !jwtToken.Valid || claims.Type != tokenType {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
