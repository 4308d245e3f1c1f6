package services

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

const creatorTokenTTL = 12 * time.Hour

type CreatorClaims struct {
	PollID string `json:"pollId"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and checks creator tokens. A creator token lets the
// holder manage one poll without resending the poll password.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: creatorTokenTTL}
}

func (t *TokenIssuer) Issue(pollID string) (string, error) {
	now := time.Now()
	claims := CreatorClaims{
		PollID: pollID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   pollID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

func (t *TokenIssuer) Parse(tokenStr string) (*CreatorClaims, error) {
	if tokenStr == "" {
		return nil, errors.New("empty token string")
	}

	token, err := jwt.ParseWithClaims(tokenStr, &CreatorClaims{}, func(tok *jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, errors.Wrap(err, "token parsing failed")
	}

	claims, ok := token.Claims.(*CreatorClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	return claims, nil
}

// Authorizes reports whether tokenStr is a valid creator token for pollID.
func (t *TokenIssuer) Authorizes(tokenStr, pollID string) bool {
	claims, err := t.Parse(tokenStr)
	if err != nil {
		return false
	}
	return claims.PollID == pollID
}
