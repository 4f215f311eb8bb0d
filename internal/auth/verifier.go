package auth

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/config"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// tokenClaims is the JWT payload.
type tokenClaims struct {
	Roles  []string `json:"roles,omitempty"`
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// Verifier checks token signatures and claims.
type Verifier struct {
	method jwt.SigningMethod
	key    any
}

// NewVerifier builds a verifier from cfg. It returns nil when neither a
// secret nor a public key is configured.
func NewVerifier(cfg config.JWTConfig) (*Verifier, error) {
	switch {
	case cfg.Secret != "":
		return NewHS256Verifier([]byte(cfg.Secret)), nil
	case cfg.PublicKeyFile != "":
		data, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read public key: %w", err)
		}
		return NewRS256Verifier(data)
	default:
		return nil, nil
	}
}

// NewHS256Verifier verifies tokens signed with secret.
func NewHS256Verifier(secret []byte) *Verifier {
	return &Verifier{method: jwt.SigningMethodHS256, key: secret}
}

// NewRS256Verifier verifies tokens signed by the private half of the PEM
// encoded public key.
func NewRS256Verifier(pemData []byte) (*Verifier, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return &Verifier{method: jwt.SigningMethodRS256, key: key}, nil
}

// Algorithm returns the accepted signing algorithm.
func (v *Verifier) Algorithm() string { return v.method.Alg() }

// VerifyToken checks the signature, the registered time claims and the
// scopes of token.
func (v *Verifier) VerifyToken(token string) (*Claims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidToken)
	}
	var tc tokenClaims
	_, err := jwt.ParseWithClaims(token, &tc, func(*jwt.Token) (any, error) {
		return v.key, nil
	}, jwt.WithValidMethods([]string{v.method.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if tc.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if len(tc.Scopes) == 0 {
		return nil, fmt.Errorf("%w: missing scopes", ErrInvalidToken)
	}
	for _, s := range tc.Scopes {
		if !slices.Contains(allScopes, s) {
			return nil, fmt.Errorf("%w: unknown scope %q", ErrInvalidToken, s)
		}
	}
	for _, r := range tc.Roles {
		if r != RoleViewer && r != RoleController {
			return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, r)
		}
	}
	return &Claims{Subject: tc.Subject, Roles: tc.Roles, Scopes: tc.Scopes}, nil
}
