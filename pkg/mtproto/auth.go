package mtproto

import (
	"context"
	"errors"
	"time"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"

	"github.com/telarch/telarch/internal/logger"
	"github.com/telarch/telarch/pkg/store/models"
)

// Secret keys recognized by the interactive login flow.
const (
	SecretKeyCode     = "code"
	SecretKeyPassword = "password"
)

// Freshness windows for submitted secrets.
const (
	codeWindow     = 10 * time.Minute
	passwordWindow = 60 * time.Minute
	pollInterval   = 2 * time.Second
)

// SecretStore is the slice of the archive store the login flow polls.
// *store.Store satisfies it.
type SecretStore interface {
	GetSecretSince(ctx context.Context, key string, minCreated time.Time) (*models.AuthSecret, error)
	DeleteSecret(ctx context.Context, key string) error
}

// secretAuthenticator implements auth.UserAuthenticator by polling the store
// for secrets the administrator submits through the bot. Verification codes
// are single-use and consumed on read; the 2FA password persists across
// re-logins.
type secretAuthenticator struct {
	phone   string
	secrets SecretStore
}

var _ auth.UserAuthenticator = (*secretAuthenticator)(nil)

func (a *secretAuthenticator) Phone(ctx context.Context) (string, error) {
	return a.phone, nil
}

func (a *secretAuthenticator) Code(ctx context.Context, _ *tg.AuthSentCode) (string, error) {
	logger.Info("Waiting for verification code", "window", codeWindow)
	value, err := a.poll(ctx, SecretKeyCode, codeWindow)
	if err != nil {
		return "", err
	}
	// Consume so a stale code is never replayed on the next attempt.
	if err := a.secrets.DeleteSecret(ctx, SecretKeyCode); err != nil {
		logger.Warn("Failed to consume verification code", "error", err)
	}
	return value, nil
}

func (a *secretAuthenticator) Password(ctx context.Context) (string, error) {
	logger.Info("Waiting for 2FA password", "window", passwordWindow)
	return a.poll(ctx, SecretKeyPassword, passwordWindow)
}

func (a *secretAuthenticator) AcceptTermsOfService(ctx context.Context, tos tg.HelpTermsOfService) error {
	return nil
}

func (a *secretAuthenticator) SignUp(ctx context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errors.New("sign-up is not supported; the account must already exist")
}

// poll waits for a secret no older than window, checking every 2 seconds
// until the context is cancelled.
func (a *secretAuthenticator) poll(ctx context.Context, key string, window time.Duration) (string, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		secret, err := a.secrets.GetSecretSince(ctx, key, time.Now().Add(-window))
		if err == nil {
			return secret.Value, nil
		}
		if !errors.Is(err, models.ErrSecretNotFound) {
			return "", err
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}
