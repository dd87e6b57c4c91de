package identity

import (
	"context"
	"crypto/subtle"
	"strings"

	"orderflow/pkg/errors"
)

// Principal is the authenticated caller attached to the request context.
type Principal struct {
	Subject string
}

// Verifier checks a bearer token and resolves the caller. Token parsing and
// validation live behind this interface; handlers only ever see a Principal.
type Verifier interface {
	Verify(ctx context.Context, token string) (Principal, error)
}

// StaticTokenVerifier accepts a single pre-shared token. It stands in for a
// real identity provider in development and test deployments.
type StaticTokenVerifier struct {
	token string
}

func NewStaticTokenVerifier(token string) *StaticTokenVerifier {
	return &StaticTokenVerifier{token: token}
}

func (v *StaticTokenVerifier) Verify(ctx context.Context, token string) (Principal, error) {
	if subtle.ConstantTimeCompare([]byte(token), []byte(v.token)) != 1 {
		return Principal{}, errors.ErrUnauthorized
	}
	return Principal{Subject: "api-client"}, nil
}

// TokenFromHeader extracts the bearer token from an Authorization header
// value. Returns an empty string when the header is absent or not a bearer
// scheme.
func TokenFromHeader(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return header[len(prefix):]
}
