// Package session keeps the signed-in user's token and profile in the store
// and hands the token to the remote client.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"

	"github.com/fjod/atomic-storefront/internal/kvstore"
	"github.com/fjod/atomic-storefront/internal/remote"
	"github.com/fjod/atomic-storefront/pkg/logger"
)

var (
	ErrNotSignedIn = errors.New("not signed in")
	ErrExpired     = errors.New("session expired")
)

// Authenticator is the part of the remote client that issues tokens.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (*remote.AuthResult, error)
	SignUp(ctx context.Context, req remote.SignUpRequest) (*remote.AuthResult, error)
}

type Session struct {
	store kvstore.Store
	now   func() time.Time
	log   *logrus.Entry
}

func New(store kvstore.Store, log *logrus.Entry) *Session {
	if log == nil {
		log = logger.Discard()
	}
	return &Session{store: store, now: time.Now, log: log}
}

// Token implements remote.TokenSource. No stored token means anonymous and
// yields "". A token whose exp claim has passed is dropped and ErrExpired
// returned.
func (s *Session) Token(ctx context.Context) (string, error) {
	token, err := s.store.Get(ctx, kvstore.KeyToken)
	if errors.Is(err, kvstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}

	if exp, ok := TokenExpiry(token); ok && !s.now().Before(exp) {
		logger.FromContext(ctx, s.log).WithField("expired_at", exp).Info("stored token expired, signing out")
		if err := s.SignOut(ctx); err != nil {
			return "", err
		}
		return "", ErrExpired
	}
	return token, nil
}

// User returns the cached profile of the signed-in user.
func (s *Session) User(ctx context.Context) (*remote.User, error) {
	var u remote.User
	err := kvstore.GetJSON(ctx, s.store, kvstore.KeyUser, &u)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrNotSignedIn
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user: %w", err)
	}
	return &u, nil
}

// SetUser refreshes the cached profile.
func (s *Session) SetUser(ctx context.Context, u remote.User) error {
	if err := kvstore.SetJSON(ctx, s.store, kvstore.KeyUser, u); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// Save persists the outcome of a sign-in or sign-up.
func (s *Session) Save(ctx context.Context, res *remote.AuthResult) error {
	if err := s.store.Set(ctx, kvstore.KeyToken, res.Token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return s.SetUser(ctx, res.User)
}

func (s *Session) SignIn(ctx context.Context, auth Authenticator, email, password string) (*remote.User, error) {
	res, err := auth.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := s.Save(ctx, res); err != nil {
		return nil, err
	}
	return &res.User, nil
}

func (s *Session) SignUp(ctx context.Context, auth Authenticator, req remote.SignUpRequest) (*remote.User, error) {
	res, err := auth.SignUp(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.Save(ctx, res); err != nil {
		return nil, err
	}
	return &res.User, nil
}

// SignOut forgets the token and the cached user.
func (s *Session) SignOut(ctx context.Context) error {
	if err := s.store.Delete(ctx, kvstore.KeyToken); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	if err := s.store.Delete(ctx, kvstore.KeyUser); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

// TokenExpiry reads the exp claim without verifying the signature; the
// signing key belongs to the remote API. ok is false for opaque tokens and
// tokens without exp.
func TokenExpiry(token string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
