// Package auth implements the single-admin session capability: password
// check against a bcrypt hash and signed, revocable session tokens.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// CookieName is the session cookie.
const CookieName = "admin_token"

// DefaultTTL is the session lifetime when none is configured.
const DefaultTTL = 7 * 24 * time.Hour

// PasswordCost is the bcrypt cost used by HashPassword.
const PasswordCost = 12

// Errors returned by Verify.
var (
	ErrNoToken      = errors.New("auth: no session token")
	ErrInvalidToken = errors.New("auth: invalid session token")
	ErrRevoked      = errors.New("auth: session revoked")
)

// Claims are the session token claims.
type Claims struct {
	Admin bool `json:"admin"`
	jwt.RegisteredClaims
}

// Options configures Sessions.
type Options struct {
	PasswordHash string
	Secret       string
	TTL          time.Duration
	CookieSecure bool
}

// Sessions issues and verifies admin sessions.
type Sessions struct {
	hash    []byte
	secret  []byte
	ttl     time.Duration
	secure  bool
	revoker Revoker
	logger  *slog.Logger
	now     func() time.Time
}

// NewSessions validates opts and returns a Sessions. A nil revoker keeps
// revocations in memory.
func NewSessions(opts Options, revoker Revoker, logger *slog.Logger) (*Sessions, error) {
	if opts.Secret == "" {
		return nil, fmt.Errorf("auth: jwt secret is empty")
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if revoker == nil {
		revoker = NewMemoryRevoker()
	}
	return &Sessions{
		hash:    []byte(opts.PasswordHash),
		secret:  []byte(opts.Secret),
		ttl:     opts.TTL,
		secure:  opts.CookieSecure,
		revoker: revoker,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// VerifyPassword reports whether candidate matches the configured hash. With
// no hash configured every password is rejected.
func (s *Sessions) VerifyPassword(candidate string) bool {
	if len(s.hash) == 0 || candidate == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(s.hash, []byte(candidate)) == nil
}

// NewToken signs a fresh session token.
func (s *Sessions) NewToken() (string, *Claims, error) {
	now := s.now().UTC()
	claims := &Claims{
		Admin: true,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, claims, nil
}

// Issue signs a session token and sets it as the session cookie.
func (s *Sessions) Issue(w http.ResponseWriter) (string, error) {
	token, _, err := s.NewToken()
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteStrictMode,
	})
	return token, nil
}

// Verify parses token and checks signature, expiry and revocation.
func (s *Sessions) Verify(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid || !claims.Admin || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("auth: check revocation: %w", err)
	}
	if revoked {
		return nil, ErrRevoked
	}
	return claims, nil
}

// TokenFromRequest returns the session token from the cookie or, failing
// that, an Authorization bearer header.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// IsAuthenticated reports whether r carries a valid session. A failing
// revocation store denies access.
func (s *Sessions) IsAuthenticated(r *http.Request) bool {
	_, err := s.Verify(r.Context(), TokenFromRequest(r))
	if err != nil && !errors.Is(err, ErrNoToken) && !errors.Is(err, ErrInvalidToken) && !errors.Is(err, ErrRevoked) {
		s.logger.Error("auth: verify session failed", slog.String("error", err.Error()))
	}
	return err == nil
}

// Clear revokes the session carried by r, if any, and expires the cookie.
func (s *Sessions) Clear(w http.ResponseWriter, r *http.Request) {
	if claims, err := s.Verify(r.Context(), TokenFromRequest(r)); err == nil {
		if err := s.revoker.Revoke(r.Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
			s.logger.Warn("auth: revoke session failed",
				slog.String("jti", claims.ID),
				slog.String("error", err.Error()))
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", fmt.Errorf("auth: password is empty")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(h), nil
}

// GenerateSecret returns 32 random bytes, hex encoded.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: read random: %w", err)
	}
	return hex.EncodeToString(b), nil
}
