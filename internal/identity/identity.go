// internal/identity/identity.go
//
// Anonymous identity provider.
// Responsibilities:
//   - Minting a stable anonymous uid (uuid) on first sign-in.
//   - Signing and verifying HS256 session tokens (golang-jwt).
//   - Reading the token from "Authorization: Bearer", the session cookie
//     or the ?token= query parameter (websocket clients).
//
// The uid is only used to authorize admin operations against game.creatorId.

package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// CookieName is the session cookie set by SignInAnonymously handlers.
const CookieName = "timeline_token"

var ErrInvalidToken = errors.New("invalid token")

// User is an authenticated (anonymous) participant.
type User struct {
	UID string `json:"uid"`
}

// Provider yields the current user and signs in anonymously when there is none.
type Provider interface {
	CurrentUser(ctx context.Context) *User
	SignInAnonymously(ctx context.Context) (*User, string, time.Time, error)
}

// Issuer signs and verifies anonymous session tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an Issuer signing with secret. Tokens expire after ttl.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

type claims struct {
	jwt.RegisteredClaims
	Anonymous bool `json:"anon"`
}

// Issue signs a token for uid.
func (i *Issuer) Issue(uid string) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Anonymous: true,
	})
	ss, err := token.SignedString(i.secret)
	return ss, exp, err
}

// Verify parses token and returns its user.
func (i *Issuer) Verify(token string) (*User, error) {
	var c claims
	t, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil || !t.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := uuid.Parse(c.Subject); err != nil {
		return nil, ErrInvalidToken
	}
	return &User{UID: c.Subject}, nil
}

// CurrentUser returns the user attached to ctx by Authenticate.
func (i *Issuer) CurrentUser(ctx context.Context) *User { return FromContext(ctx) }

// SignInAnonymously returns the user already on ctx, or mints a new uid.
func (i *Issuer) SignInAnonymously(ctx context.Context) (*User, string, time.Time, error) {
	u := FromContext(ctx)
	if u == nil {
		u = &User{UID: uuid.NewString()}
	}
	tok, exp, err := i.Issue(u.UID)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	return u, tok, exp, nil
}

type contextKey string

var userCtxKey = contextKey("user")

// WithUser attaches u to ctx.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey, u)
}

// FromContext returns the user on ctx or nil.
func FromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey).(*User)
	return u
}

// UID returns the uid on ctx or "".
func UID(ctx context.Context) string {
	if u := FromContext(ctx); u != nil {
		return u.UID
	}
	return ""
}

// TokenFromRequest extracts a session token.
func TokenFromRequest(r *http.Request) string {
	// Authorization: Bearer <token>
	if a := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(a), "bearer ") {
		return strings.TrimSpace(a[7:])
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

// SetCookie writes the session cookie. Secure cookies use SameSite=None so
// the client can live on a different origin.
func SetCookie(w http.ResponseWriter, token string, exp time.Time, secure bool) {
	sameSite := http.SameSiteLaxMode
	if secure {
		sameSite = http.SameSiteNoneMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
		Expires:  exp,
	})
}

var _ Provider = (*Issuer)(nil)
