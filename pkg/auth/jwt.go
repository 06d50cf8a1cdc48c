package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated caller extracted from a bearer token
type Identity struct {
	AgentID string   `json:"agent_id"`
	OwnerID string   `json:"owner_id"`
	Roles   []string `json:"roles"`
}

// HasRole reports whether the identity carries the given role
func (id *Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ExtractToken extracts the JWT from an Authorization header value.
// Supports "Bearer <token>" format.
func ExtractToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", errors.New("empty authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty token")
	}
	return token, nil
}

// TokenAuth issues and verifies bearer tokens bound to an agent, its owner
// and its role set.
type TokenAuth struct {
	SecretKey         []byte
	AccessTokenExpiry time.Duration // Default: 1 hour
}

// NewTokenAuth creates a token authority from a shared HMAC secret
func NewTokenAuth(secretKey string, accessExpiry time.Duration) (*TokenAuth, error) {
	if secretKey == "" {
		return nil, errors.New("JWT secret key cannot be empty")
	}
	if accessExpiry == 0 {
		accessExpiry = time.Hour
	}
	return &TokenAuth{
		SecretKey:         []byte(secretKey),
		AccessTokenExpiry: accessExpiry,
	}, nil
}

// Claims are the JWT token claims. The subject is the agent id.
type Claims struct {
	OwnerID string   `json:"owner_id"`
	Roles   []string `json:"roles"`
	jwt.RegisteredClaims
}

// GenerateToken signs an access token for the agent
func (a *TokenAuth) GenerateToken(agentID, ownerID string, roles []string) (string, error) {
	now := time.Now()
	claims := Claims{
		OwnerID: ownerID,
		Roles:   roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agentID,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.AccessTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "breadcrumbd",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.SecretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// VerifyToken verifies a token and returns the caller identity
func (a *TokenAuth) VerifyToken(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.SecretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return &Identity{
			AgentID: claims.Subject,
			OwnerID: claims.OwnerID,
			Roles:   claims.Roles,
		}, nil
	}
	return nil, errors.New("invalid token")
}
