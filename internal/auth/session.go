package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionCookie is the cookie Clerk uses for same-site session tokens.
const SessionCookie = "__session"

const sessionLeeway = 5 * time.Second

// SessionClaims is the identity extracted from a verified session token.
type SessionClaims struct {
	UserID          string    `json:"user_id"`
	SessionID       string    `json:"session_id,omitempty"`
	OrgID           string    `json:"org_id,omitempty"`
	AuthorizedParty string    `json:"azp,omitempty"`
	ExpiresAt       time.Time `json:"expires_at"`
}

type clerkClaims struct {
	SessionID       string `json:"sid,omitempty"`
	OrgID           string `json:"org_id,omitempty"`
	AuthorizedParty string `json:"azp,omitempty"`
	jwt.RegisteredClaims
}

// SessionVerifier validates Clerk session JWTs.
type SessionVerifier struct {
	publicKey *rsa.PublicKey
	secret    []byte
	issuer    string
	now       func() time.Time
}

// VerifierOption configures a SessionVerifier.
type VerifierOption func(*SessionVerifier) error

// WithPublicKeyPEM enables RS256 verification with a PEM encoded public key.
func WithPublicKeyPEM(pemData string) VerifierOption {
	return func(v *SessionVerifier) error {
		if strings.TrimSpace(pemData) == "" {
			return nil
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemData))
		if err != nil {
			return fmt.Errorf("parse session public key: %w", err)
		}
		v.publicKey = key
		return nil
	}
}

// WithSharedSecret enables HS256 verification. Intended for development and tests.
func WithSharedSecret(secret string) VerifierOption {
	return func(v *SessionVerifier) error {
		if secret != "" {
			v.secret = []byte(secret)
		}
		return nil
	}
}

// WithIssuer requires the iss claim to match.
func WithIssuer(issuer string) VerifierOption {
	return func(v *SessionVerifier) error {
		v.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithVerifierClock overrides the clock used for exp and nbf checks.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *SessionVerifier) error {
		if now != nil {
			v.now = now
		}
		return nil
	}
}

// NewSessionVerifier builds a verifier. At least one key must be configured.
func NewSessionVerifier(opts ...VerifierOption) (*SessionVerifier, error) {
	v := &SessionVerifier{now: time.Now}
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}
	if v.publicKey == nil && len(v.secret) == 0 {
		return nil, errors.New("auth: session public key or secret is required")
	}
	return v, nil
}

func (v *SessionVerifier) methods() []string {
	var out []string
	if v.publicKey != nil {
		out = append(out, jwt.SigningMethodRS256.Alg())
	}
	if len(v.secret) > 0 {
		out = append(out, jwt.SigningMethodHS256.Alg())
	}
	return out
}

// Verify parses and validates a raw session token.
func (v *SessionVerifier) Verify(raw string) (SessionClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return SessionClaims{}, fmt.Errorf("%w: missing session token", ErrUnauthenticated)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.methods()),
		jwt.WithLeeway(sessionLeeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := &clerkClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		switch t.Method.Alg() {
		case jwt.SigningMethodRS256.Alg():
			return v.publicKey, nil
		case jwt.SigningMethodHS256.Alg():
			return v.secret, nil
		}
		return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
	}, opts...)
	if err != nil {
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return SessionClaims{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	out := SessionClaims{
		UserID:          claims.Subject,
		SessionID:       claims.SessionID,
		OrgID:           claims.OrgID,
		AuthorizedParty: claims.AuthorizedParty,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// TokenFromRequest extracts the session token from the Authorization header
// or, failing that, the session cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return ""
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}
