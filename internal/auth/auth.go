// Package auth carries the caller's identity explicitly through the booking
// flow. Nothing here reads ambient state; every outbound call receives a
// Context from its caller.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotAuthenticated is returned when a call needs a bearer token and none was supplied.
var ErrNotAuthenticated = errors.New("auth: not authenticated")

// Context is the authentication context for one user acting on the booking flow.
type Context struct {
	Token  string
	UserID string
	Role   string

	// Verified is set only when the token signature was checked. Claims of
	// an unverified token are informational and must not grant access.
	Verified bool
}

// Authenticated reports whether a bearer token is present.
func (c Context) Authenticated() bool {
	return strings.TrimSpace(c.Token) != ""
}

// BearerHeader renders the Authorization header value.
func (c Context) BearerHeader() string {
	return "Bearer " + c.Token
}

// Claims are the JWT claims issued by the marketplace identity service.
type Claims struct {
	UserID string `json:"userId,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return "", ErrNotAuthenticated
	}
	token := strings.TrimSpace(header[len("Bearer "):])
	if token == "" {
		return "", ErrNotAuthenticated
	}
	return token, nil
}

// ClaimsReader turns bearer tokens into a Context. With a secret configured
// tokens must be HS256-signed and valid. Without one, the marketplace backend
// stays the authority: claims are read unverified when the token is a JWT and
// opaque tokens are passed through untouched.
type ClaimsReader struct {
	secret []byte
}

// NewClaimsReader builds a reader; an empty secret disables verification.
func NewClaimsReader(secret string) *ClaimsReader {
	return &ClaimsReader{secret: []byte(secret)}
}

// Verifying reports whether signatures are checked.
func (r *ClaimsReader) Verifying() bool {
	return r != nil && len(r.secret) > 0
}

// Read builds a Context for the given bearer token.
func (r *ClaimsReader) Read(token string) (Context, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Context{}, ErrNotAuthenticated
	}

	claims := Claims{}
	if r.Verifying() {
		parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return r.secret, nil
		})
		if err != nil || !parsed.Valid {
			return Context{}, fmt.Errorf("auth: invalid token: %w", errors.Join(ErrNotAuthenticated, err))
		}
		return contextFromClaims(token, claims, true), nil
	}

	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Context{Token: token}, nil
	}
	return contextFromClaims(token, claims, false), nil
}

func contextFromClaims(token string, claims Claims, verified bool) Context {
	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	return Context{Token: token, UserID: userID, Role: claims.Role, Verified: verified}
}

type ctxKey string

const authKey ctxKey = "urbanassist.auth"

// WithContext stores the auth context on a request context.
func WithContext(ctx context.Context, a Context) context.Context {
	return context.WithValue(ctx, authKey, a)
}

// FromContext extracts the auth context if present.
func FromContext(ctx context.Context) (Context, bool) {
	a, ok := ctx.Value(authKey).(Context)
	return a, ok && a.Authenticated()
}
