package loqed

import (
	"context"
	"errors"
	"strings"
)

// ErrNoToken means no bearer token is configured.
var ErrNoToken = errors.New("no api token configured")

// TokenSource supplies the bearer token for each request. Token exchange and
// refresh live outside this package.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken serves a fixed bearer token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	value := strings.TrimSpace(string(t))
	if value == "" {
		return "", ErrNoToken
	}
	return value, nil
}
