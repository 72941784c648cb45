// Package identity verifies the bearer tokens minted by the auth service and
// yields the user id the cart trusts.
package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultIssuer = "takeaway-auth"

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: DefaultIssuer}
}

// UserID returns the authenticated user of a token. The user_id claim wins
// over the subject when both are present.
func (v *Verifier) UserID(token string) (string, error) {
	var c Claims
	_, err := jwt.ParseWithClaims(token, &c,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", ErrInvalidToken
	}

	uid := c.UserID
	if uid == "" {
		uid = c.Subject
	}
	if uid == "" {
		return "", ErrInvalidToken
	}
	return uid, nil
}

// Issue signs a token the way the auth service does. The cart never issues
// tokens on its own; this exists for tests and local tooling.
func (v *Verifier) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
