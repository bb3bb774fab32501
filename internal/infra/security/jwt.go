package security

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"

	"github.com/learnonline/admin-iam/internal/core/domain"
)

var (
	// ErrKeyIDMissing indicates no kid is associated with the supplied key.
	ErrKeyIDMissing = errors.New("jwt: missing key identifier")
	// ErrTokenInvalid indicates the token is malformed, carries an unexpected
	// purpose, or failed signature validation.
	ErrTokenInvalid = errors.New("jwt: token invalid")
	// ErrTokenExpired indicates the token's validity window has passed.
	ErrTokenExpired = errors.New("jwt: token expired")
)

// ChallengePurpose marks a token as a pending two-factor challenge. A token
// without this purpose must never be accepted by the 2FA completion step.
const ChallengePurpose = "2fa"

// AccessTokenClaims carry the authenticated account context. Demo sessions
// are flagged so downstream guards can gate feature access.
type AccessTokenClaims struct {
	AccountID string      `json:"aid"`
	Role      domain.Role `json:"role"`
	Demo      bool        `json:"demo,omitempty"`
	jwt.RegisteredClaims
}

// ChallengeTokenClaims assert that an account passed password validation and
// still owes a second factor. Validity is enforced entirely from the
// embedded expiry; nothing is stored server-side.
type ChallengeTokenClaims struct {
	AccountID string `json:"aid"`
	Purpose   string `json:"purpose"`
	jwt.RegisteredClaims
}

// JWTManager signs and parses the access and challenge tokens with RSA keys
// from the configured provider.
type JWTManager struct {
	keyProvider KeyProvider
	kid         string
	issuer      string

	mu         sync.RWMutex
	publicKeys map[string]*rsa.PublicKey
}

// NewJWTManager constructs a manager that signs with the provider's active
// key under the supplied kid.
func NewJWTManager(provider KeyProvider, kid, issuer string) (*JWTManager, error) {
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return nil, ErrKeyIDMissing
	}
	if provider == nil {
		return nil, fmt.Errorf("jwt: key provider is required")
	}

	return &JWTManager{
		keyProvider: provider,
		kid:         kid,
		issuer:      issuer,
		publicKeys:  make(map[string]*rsa.PublicKey),
	}, nil
}

// SignAccessToken issues a signed access token for the account.
func (m *JWTManager) SignAccessToken(account domain.Account, demo bool, ttl time.Duration) (string, error) {
	if account.ID == "" {
		return "", fmt.Errorf("jwt: account id is required")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	now := time.Now().UTC()
	claims := &AccessTokenClaims{
		AccountID: account.ID,
		Role:      account.Role,
		Demo:      demo,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID,
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	return m.sign(claims)
}

// SignChallengeToken mints the short-lived 2FA challenge for the account.
func (m *JWTManager) SignChallengeToken(accountID string, ttl time.Duration) (string, error) {
	if accountID == "" {
		return "", fmt.Errorf("jwt: account id is required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	now := time.Now().UTC()
	claims := &ChallengeTokenClaims{
		AccountID: accountID,
		Purpose:   ChallengePurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	return m.sign(claims)
}

// ParseAccessToken validates the signature, issuer, audience, and expiry of
// an access token.
func (m *JWTManager) ParseAccessToken(token string) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	if err := m.parse(token, claims); err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.AccountID) == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// ParseChallengeToken validates a 2FA challenge token, including its purpose
// flag.
func (m *JWTManager) ParseChallengeToken(token string) (*ChallengeTokenClaims, error) {
	claims := &ChallengeTokenClaims{}
	if err := m.parse(token, claims); err != nil {
		return nil, err
	}
	if claims.Purpose != ChallengePurpose || strings.TrimSpace(claims.AccountID) == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (m *JWTManager) sign(claims jwt.Claims) (string, error) {
	signingKey, err := m.keyProvider.GetSigningKey()
	if err != nil {
		return "", fmt.Errorf("jwt: get signing key: %w", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = m.kid

	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}

	return signed, nil
}

func (m *JWTManager) parse(token string, claims jwt.Claims) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrTokenInvalid
	}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}

		kid, ok := t.Header["kid"].(string)
		if !ok {
			return nil, ErrKeyIDMissing
		}

		return m.verificationKey(kid)
	}, jwt.WithIssuer(m.issuer), jwt.WithAudience(m.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return ErrTokenInvalid
	}

	if parsed == nil || !parsed.Valid {
		return ErrTokenInvalid
	}

	return nil
}

func (m *JWTManager) verificationKey(kid string) (*rsa.PublicKey, error) {
	m.mu.RLock()
	key, ok := m.publicKeys[kid]
	m.mu.RUnlock()
	if ok {
		return key, nil
	}

	fetched, err := m.keyProvider.GetVerificationKey(kid)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.publicKeys[kid] = fetched
	m.mu.Unlock()
	return fetched, nil
}
