// Package auth resolves bearer credentials to a stable user id. Route
// middleware verifies the JWT; this package extracts the subject and also
// verifies raw tokens handed over on websocket upgrades.
package auth

import (
	"context"
	"sync"

	"github.com/go-chi/jwtauth"

	"github.com/conclave-mtg/conclave-api/internal/conclave/apperr"
)

type Resolver struct {
	tokenAuth *jwtauth.JWTAuth
	cache     sync.Map // raw token -> user id
}

func NewResolver(jwtKey string) *Resolver {
	return &Resolver{
		tokenAuth: jwtauth.New("HS256", []byte(jwtKey), nil),
	}
}

// TokenAuth exposes the verifier for the chi middleware chain.
func (r *Resolver) TokenAuth() *jwtauth.JWTAuth {
	return r.tokenAuth
}

// UserFromContext resolves the user id from a request that passed the
// jwtauth verifier middleware.
func (r *Resolver) UserFromContext(ctx context.Context) (string, error) {
	token, _, err := jwtauth.FromContext(ctx)
	if err != nil {
		return "", apperr.Unauthorized("invalid token")
	}
	if token == nil || token.Subject() == "" {
		return "", apperr.Unauthorized("token has no subject")
	}
	return token.Subject(), nil
}

// UserFromToken verifies a raw bearer token (websocket query param path).
// Successful resolutions are cached.
func (r *Resolver) UserFromToken(tokenString string) (string, error) {
	if tokenString == "" {
		return "", apperr.Unauthorized("missing token")
	}
	if cached, ok := r.cache.Load(tokenString); ok {
		return cached.(string), nil
	}
	token, err := jwtauth.VerifyToken(r.tokenAuth, tokenString)
	if err != nil {
		return "", apperr.Unauthorized("invalid token")
	}
	if token.Subject() == "" {
		return "", apperr.Unauthorized("token has no subject")
	}
	r.cache.Store(tokenString, token.Subject())
	return token.Subject(), nil
}
