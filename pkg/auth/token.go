package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Claims is the payload of an X-User-Token identity token.
type Claims struct {
	Name     string `json:"name,omitempty"`
	Nickname string `json:"nickname,omitempty"`
	Email    string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 identity token for id. Backends that front the
// API use it to pass user profile data along with the subject.
func IssueToken(secret, issuer string, id Identity, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("token secret not configured")
	}
	now := time.Now()
	claims := Claims{
		Name:     id.Name,
		Nickname: id.Nickname,
		Email:    id.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  id.Subject,
			Issuer:   issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken verifies raw against secret and returns the identity it carries.
func ParseToken(secret, issuer, raw string) (Identity, error) {
	if secret == "" {
		return Identity{}, errors.New("token secret not configured")
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return Identity{}, errors.Wrap(err, "parse identity token")
	}
	if claims.Subject == "" {
		return Identity{}, errors.New("identity token has no subject")
	}
	iss := claims.Issuer
	if iss == "" {
		iss = "token"
	}
	return Identity{
		Subject:         claims.Subject,
		TokenIdentifier: iss + "|" + claims.Subject,
		Name:            claims.Name,
		Nickname:        claims.Nickname,
		Email:           claims.Email,
	}, nil
}
