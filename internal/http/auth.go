package http

import (
	"crypto/rsa"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrUnauthorized = errors.New("unauthorized")

// Authenticator verifies RS256 bearer tokens issued by the identity service. The
// subject claim carries the user id.
type Authenticator struct {
	key *rsa.PublicKey
}

// NewAuthenticator parses a PEM public key. Escaped newlines, as found in env files,
// are accepted. An empty key yields a nil authenticator and every caller is a guest.
func NewAuthenticator(publicKeyPEM string) (*Authenticator, error) {
	if strings.TrimSpace(publicKeyPEM) == "" {
		return nil, nil
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(strings.ReplaceAll(publicKeyPEM, `\n`, "\n")))
	if err != nil {
		return nil, errors.Wrap(err, "parse JWT public key")
	}
	return &Authenticator{key: key}, nil
}

// UserID validates token and returns its subject.
func (a *Authenticator) UserID(token string) (uuid.UUID, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return a.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Name}), jwt.WithExpirationRequired())
	if err != nil {
		return uuid.Nil, errors.Mark(err, ErrUnauthorized)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, errors.Mark(errors.Wrap(err, "subject is not a user id"), ErrUnauthorized)
	}
	return id, nil
}
