package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ms-raffle/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const SessionCookieName = "session"

var ErrNoSession = errors.New("no valid session")

// SessionClaims is the payload of the signed session cookie.
type SessionClaims struct {
	UserID   int64     `json:"userId"`
	Username string    `json:"username"`
	Expires  time.Time `json:"expires"`
	jwt.RegisteredClaims
}

// Sessions issues and reads HS256-signed session cookies.
type Sessions struct {
	Secret []byte
	TTL    time.Duration
	Secure bool
	Now    func() time.Time
}

func NewSessions(secret string, ttl time.Duration, secure bool) *Sessions {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Sessions{Secret: []byte(secret), TTL: ttl, Secure: secure, Now: time.Now}
}

// Issue signs a session for user and sets it on the response.
func (s *Sessions) Issue(w http.ResponseWriter, user *models.User) (*SessionClaims, error) {
	now := s.Now()
	claims := &SessionClaims{
		UserID:   user.ID,
		Username: user.Username,
		Expires:  now.Add(s.TTL).UTC(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   fmt.Sprint(user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.TTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
	if err != nil {
		return nil, fmt.Errorf("sign session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    signed,
		Path:     "/",
		Expires:  now.Add(s.TTL),
		MaxAge:   int(s.TTL.Seconds()),
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return claims, nil
}

// Read returns the claims of the request's session cookie. Missing, expired
// and tampered cookies all yield ErrNoSession.
func (s *Sessions) Read(r *http.Request) (*SessionClaims, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrNoSession
	}
	return s.Parse(cookie.Value)
}

func (s *Sessions) Parse(raw string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return s.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	return claims, nil
}

// Clear expires the session cookie.
func (s *Sessions) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ExtractBearerToken extracts the token from an "Authorization: Bearer {token}" header.
func ExtractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header is missing")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("authorization header format must be 'Bearer {token}'")
	}
	return parts[1], nil
}
