package models

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Permission names understood by the API.
const (
	PermissionRead    = "read"
	PermissionTrigger = "trigger"
	PermissionAdmin   = "admin"
)

// APIKey is a resolved API key. The raw key is never retained; only its
// SHA-256 hex hash and a short display prefix.
type APIKey struct {
	Name        string   `json:"name"`
	KeyHash     string   `json:"key_hash"`
	Prefix      string   `json:"prefix"`
	Permissions []string `json:"permissions"`
	Enabled     bool     `json:"enabled"`
}

// NewAPIKey resolves a configured key into an APIKey, hashing the raw key if present.
func NewAPIKey(cfg APIKeyConfig) *APIKey {
	hash := strings.ToLower(cfg.KeyHash)
	prefix := ""
	if cfg.Key != "" {
		hash = HashAPIKey(cfg.Key)
		prefix = cfg.Key
		if len(prefix) > 8 {
			prefix = prefix[:8]
		}
	}
	return &APIKey{
		Name:        cfg.Name,
		KeyHash:     hash,
		Prefix:      prefix,
		Permissions: cfg.Permissions,
		Enabled:     cfg.Enabled,
	}
}

// GenerateAPIKey produces a new random API key in the format ka_<44 url-safe base64 chars>.
func GenerateAPIKey() (string, error) {
	b := make([]byte, 33)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return "ka_" + base64.RawURLEncoding.EncodeToString(b), nil
}

// HashAPIKey computes the SHA-256 hex digest of a raw API key.
func HashAPIKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// HasPermission returns true when the key is enabled and possesses the required
// permission. admin (or *) grants everything; trigger includes read.
func (ak *APIKey) HasPermission(required string) bool {
	if ak == nil || !ak.Enabled {
		return false
	}
	for _, p := range ak.Permissions {
		switch p {
		case "*", PermissionAdmin:
			return true
		case PermissionTrigger:
			if required == PermissionRead || required == PermissionTrigger {
				return true
			}
		case required:
			return true
		}
	}
	return false
}

type apiKeyContextKey struct{}

// ContextWithAPIKey returns a copy of ctx carrying the authenticated key.
func ContextWithAPIKey(ctx context.Context, key *APIKey) context.Context {
	return context.WithValue(ctx, apiKeyContextKey{}, key)
}

// APIKeyFromContext returns the authenticated key stored in ctx, if any.
func APIKeyFromContext(ctx context.Context) (*APIKey, bool) {
	key, ok := ctx.Value(apiKeyContextKey{}).(*APIKey)
	return key, ok && key != nil
}
