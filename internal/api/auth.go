package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/murmurhq/murmur/internal/log"
)

// DefaultTokenTTL is how long a minted bearer token stays valid.
const DefaultTokenTTL = 24 * time.Hour

const minAuthSecretLen = 32

var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// identity is the authenticated caller resolved from a bearer token.
type identity struct {
	UserID    string
	SessionID uuid.UUID
}

type identityCtxKey struct{}

func identityFromContext(ctx context.Context) (identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(identity)
	return id, ok
}

// tokenAuthority mints and verifies HMAC-signed bearer tokens of the
// form userID.sessionID.expiry.mac. The MAC covers the first three
// fields, so a token binds its caller to exactly one (user, session).
type tokenAuthority struct {
	secret []byte
	ttl    time.Duration
}

func newTokenAuthority(secret []byte, ttl time.Duration) (*tokenAuthority, error) {
	if len(secret) < minAuthSecretLen {
		return nil, fmt.Errorf("auth secret must be at least %d bytes, got %d", minAuthSecretLen, len(secret))
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &tokenAuthority{secret: secret, ttl: ttl}, nil
}

func (ta *tokenAuthority) sign(payload string) string {
	mac := hmac.New(sha256.New, ta.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Mint issues a token for the given user and session.
func (ta *tokenAuthority) Mint(userID string, sessionID uuid.UUID, now time.Time) (token string, expiresAt time.Time) {
	expiresAt = now.Add(ta.ttl)
	payload := fmt.Sprintf("%s.%s.%d", userID, sessionID, expiresAt.Unix())
	return payload + "." + ta.sign(payload), expiresAt
}

// Verify checks a token's MAC and expiry and returns the identity it
// carries. User IDs never contain dots (they are UUIDs we mint), so the
// four-way split is unambiguous.
func (ta *tokenAuthority) Verify(token string, now time.Time) (identity, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return identity{}, ErrTokenInvalid
	}
	payload := strings.Join(parts[:3], ".")
	want := ta.sign(payload)
	if !hmac.Equal([]byte(want), []byte(parts[3])) {
		return identity{}, ErrTokenInvalid
	}

	expiry, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return identity{}, ErrTokenInvalid
	}
	if now.Unix() >= expiry {
		return identity{}, ErrTokenExpired
	}

	sessionID, err := uuid.Parse(parts[1])
	if err != nil || parts[0] == "" {
		return identity{}, ErrTokenInvalid
	}
	return identity{UserID: parts[0], SessionID: sessionID}, nil
}

// authMiddleware resolves the Authorization bearer token into an
// identity on the request context. Unauthenticated requests get 401.
func authMiddleware(ta *tokenAuthority, logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeError(w, logger, http.StatusUnauthorized, "unauthorized", "bearer token required")
				return
			}

			id, err := ta.Verify(token, time.Now())
			if err != nil {
				code := "unauthorized"
				if errors.Is(err, ErrTokenExpired) {
					code = "token_expired"
				}
				logger.Debug("token rejected", "error", err, "path", r.URL.Path)
				writeError(w, logger, http.StatusUnauthorized, code, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), identityCtxKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
