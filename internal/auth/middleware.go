package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Claims identifies the caller of a request.
type Claims struct {
	Subject string   `json:"sub"`
	Roles   []string `json:"roles,omitempty"`
	Scopes  []string `json:"scopes"`
}

// HasScope reports whether the claims grant scope.
func (c *Claims) HasScope(scope string) bool {
	return c != nil && slices.Contains(c.Scopes, scope)
}

type contextKey struct{}

const (
	RoleViewer     = "viewer"
	RoleController = "controller"
)

const (
	ScopeRead      = "read"
	ScopeControl   = "control"
	ScopeTelemetry = "telemetry"
)

var allScopes = []string{ScopeRead, ScopeControl, ScopeTelemetry}

// Anonymous is the caller when no verifier is configured.
var Anonymous = Claims{Subject: "anonymous", Roles: []string{RoleController}, Scopes: allScopes}

// Middleware authenticates requests with a bearer token.
type Middleware struct {
	verifier *Verifier
	public   map[string]bool
}

// NewMiddleware returns a middleware verifying tokens with v. A nil v
// admits every request as Anonymous. Paths in public skip authentication.
func NewMiddleware(v *Verifier, public ...string) *Middleware {
	m := &Middleware{verifier: v, public: make(map[string]bool, len(public))}
	for _, p := range public {
		m.public[p] = true
	}
	return m
}

// Enabled reports whether tokens are verified.
func (m *Middleware) Enabled() bool { return m.verifier != nil }

// RequireAuth rejects requests without a valid bearer token and stores
// the claims of accepted ones in the request context.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.public[r.URL.Path] {
			next(w, r)
			return
		}
		if m.verifier == nil {
			anon := Anonymous
			next(w, r.WithContext(WithClaims(r.Context(), &anon)))
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
			return
		}
		claims, err := m.verifier.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
			return
		}
		next(w, r.WithContext(WithClaims(r.Context(), claims)))
	}
}

// RequireScope rejects requests whose claims lack any of scopes. It must
// run inside RequireAuth. Public paths pass unchecked.
func (m *Middleware) RequireScope(scopes ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if m.public[r.URL.Path] {
				next(w, r)
				return
			}
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
				return
			}
			for _, s := range scopes {
				if !claims.HasScope(s) {
					writeError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions")
					return
				}
			}
			next(w, r)
		}
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(h, "Bearer ")
	if !found || strings.TrimSpace(token) == "" {
		return "", false
	}
	return token, true
}

// WithClaims returns ctx carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// ClaimsFromContext returns the claims stored by RequireAuth, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(contextKey{}).(*Claims)
	return c
}

// Subject returns the subject of the request caller, or "unknown".
func Subject(r *http.Request) string {
	if c := ClaimsFromContext(r.Context()); c != nil {
		return c.Subject
	}
	return "unknown"
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"result":        "error",
		"code":          code,
		"message":       message,
		"correlationId": uuid.NewString(),
	})
}
