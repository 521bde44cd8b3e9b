// Package privilege decides whether a caller may bypass the admission gate.
//
// An operator proves knowledge of a single shared secret once and receives a
// signed capability token valid for a fixed period. Holding a valid token is
// the only input to the privileged flag; there is no revocation list, so a
// token stays valid until it expires or the client discards it.
package privilege

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/chartgate/chartgate/internal/clock"
)

// DefaultTokenTTL is how long an issued token stays valid.
const DefaultTokenTTL = 24 * time.Hour

// operatorSubject is the only subject this service issues tokens for.
const operatorSubject = "operator"

var (
	ErrInvalidToken = errors.New("invalid capability token")
	ErrTokenExpired = errors.New("capability token expired")
)

// Config holds privilege gate configuration.
type Config struct {
	Secret     string        // Shared operator secret; empty disables login
	SigningKey []byte        // HMAC key for tokens; generated when empty
	TokenTTL   time.Duration // Token lifetime
}

// Token is an issued capability token.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Guard checks the shared secret and issues and verifies capability tokens.
type Guard struct {
	secret []byte
	key    []byte
	ttl    time.Duration
	clock  clock.Clock
	parser *jwt.Parser
}

// NewGuard creates a Guard. A nil clock means the system clock.
func NewGuard(cfg Config, clk clock.Clock) (*Guard, error) {
	if clk == nil {
		clk = clock.SystemClock{}
	}

	key := cfg.SigningKey
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate signing key: %w", err)
		}
	}

	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	return &Guard{
		secret: []byte(cfg.Secret),
		key:    key,
		ttl:    ttl,
		clock:  clk,
		// Expiry is checked against the injected clock in Verify.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// Enabled reports whether a secret is configured.
func (g *Guard) Enabled() bool {
	return len(g.secret) > 0
}

// TTL returns the token lifetime.
func (g *Guard) TTL() time.Duration {
	return g.ttl
}

// CheckSecret compares candidate with the configured secret in constant time.
func (g *Guard) CheckSecret(candidate string) bool {
	if !g.Enabled() {
		return false
	}
	return subtle.ConstantTimeCompare(g.secret, []byte(candidate)) == 1
}

// Issue creates a new capability token.
func (g *Guard) Issue() (Token, error) {
	now := g.clock.Now().Truncate(time.Second)
	expiresAt := now.Add(g.ttl)

	claims := jwt.RegisteredClaims{
		Subject:   operatorSubject,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.key)
	if err != nil {
		return Token{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return Token{Value: value, ExpiresAt: expiresAt}, nil
}

// Verify checks the token's signature, subject and expiry.
func (g *Guard) Verify(value string) error {
	if value == "" {
		return ErrInvalidToken
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := g.parser.ParseWithClaims(value, claims, g.keyFunc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject != operatorSubject {
		return ErrInvalidToken
	}
	if !claims.VerifyExpiresAt(g.clock.Now(), true) {
		return ErrTokenExpired
	}

	return nil
}

// Privileged reports whether value is a currently valid token.
func (g *Guard) Privileged(value string) bool {
	return g.Verify(value) == nil
}

func (g *Guard) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return g.key, nil
}
