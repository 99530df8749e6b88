package transport

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload carried by every hub-issued bearer token. UID
// is the numeric-as-string identity the Access Control Model keys on.
type Claims struct {
	UID string `json:"uid"`
	jwt.RegisteredClaims
}

// JWTManager verifies bearer tokens: header-then-query extraction,
// HMAC-only verification.
type JWTManager struct {
	secretKey []byte
}

// NewJWTManager creates a JWTManager for the given HMAC secret.
func NewJWTManager(secretKey string) *JWTManager {
	return &JWTManager{secretKey: []byte(secretKey)}
}

// Verify parses and validates tokenString, returning its Claims.
func (m *JWTManager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UID == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// extractToken pulls a bearer token from the Authorization header
// first, then the `token` query parameter. The query parameter is only
// consulted when no Authorization header is present; a header without
// the Bearer prefix is an error.
func extractToken(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		const prefix = "Bearer "
		if !strings.HasPrefix(authHeader, prefix) {
			return "", errors.New("invalid authorization header format")
		}
		return strings.TrimPrefix(authHeader, prefix), nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", errors.New("no bearer token found")
}

// uidCacheEntry is one verified token's resolved identity, reused for
// any request carrying the same token until expiresAt.
type uidCacheEntry struct {
	uid       string
	expiresAt time.Time
}

// UIDCache resolves a request's authenticated uid, memoizing by raw
// token string so a connection that makes several requests with the
// same bearer token (REST polling alongside an open websocket) doesn't
// pay JWT verification on every one. Entries expire one minute after
// verification, or when the token itself expires if that is sooner.
type UIDCache struct {
	jwt *JWTManager

	mu      sync.RWMutex
	entries map[string]uidCacheEntry
}

// NewUIDCache creates a UIDCache backed by the given JWTManager.
func NewUIDCache(jwtManager *JWTManager) *UIDCache {
	return &UIDCache{jwt: jwtManager, entries: make(map[string]uidCacheEntry)}
}

// Resolve returns the uid authenticated by r, verifying and caching the
// token if it hasn't been seen (or has expired) yet.
func (c *UIDCache) Resolve(r *http.Request) (string, error) {
	token, err := extractToken(r)
	if err != nil {
		return "", err
	}

	now := time.Now()
	c.mu.RLock()
	entry, ok := c.entries[token]
	c.mu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		return entry.uid, nil
	}

	claims, err := c.jwt.Verify(token)
	if err != nil {
		return "", err
	}
	expiresAt := now.Add(time.Minute)
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(expiresAt) {
		expiresAt = claims.ExpiresAt.Time
	}

	c.mu.Lock()
	c.entries[token] = uidCacheEntry{uid: claims.UID, expiresAt: expiresAt}
	c.mu.Unlock()

	return claims.UID, nil
}
