package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"ms-raffle/internal/logger"
	"ms-raffle/internal/models"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid username or password")

type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// Authenticator checks dashboard credentials against bcrypt hashes.
type Authenticator struct {
	Users  UserStore
	Logger *logger.Logger
}

func NewAuthenticator(users UserStore, log *logger.Logger) *Authenticator {
	return &Authenticator{Users: users, Logger: log}
}

func (a *Authenticator) Login(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := a.Users.GetUserByUsername(ctx, username)
	if errors.Is(err, sql.ErrNoRows) {
		a.Logger.LogSecurity("LOGIN_FAILED", fmt.Sprintf("unknown user %q", username))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		a.Logger.LogSecurity("LOGIN_FAILED", fmt.Sprintf("bad password for %q", username))
		return nil, ErrInvalidCredentials
	}

	a.Logger.LogSecurity("LOGIN", fmt.Sprintf("user %q signed in", username))
	return user, nil
}

// HashPassword returns the bcrypt hash stored on users.password_hash.
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", errors.New("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
