// Package secrets resolves secret references at startup. Config values may
// point into a backing store instead of carrying the secret inline; the
// Source hides which store that is. All sources are read-only: this
// service never writes or rotates anything in a secret manager.
package secrets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/brindlepay/subscription-service/internal/domain/ports"
)

// Source resolves a secret path to its value.
type Source interface {
	Lookup(ctx context.Context, path string) (string, error)
}

// FromEnv builds the source named by SECRETS_BACKEND: env (default),
// file, aws or vault. Backend-specific settings come from the usual
// environment variables of each backend.
func FromEnv(ctx context.Context, logger ports.Logger) (Source, error) {
	switch backend := os.Getenv("SECRETS_BACKEND"); backend {
	case "", "env":
		return EnvSource{}, nil
	case "file":
		dir := os.Getenv("SECRETS_PATH")
		if dir == "" {
			return nil, fmt.Errorf("SECRETS_PATH is required for the file backend")
		}
		return FileSource{Dir: dir}, nil
	case "aws":
		return NewAWSSource(ctx, AWSConfig{
			Region:   os.Getenv("AWS_REGION"),
			Profile:  os.Getenv("AWS_PROFILE"),
			Endpoint: os.Getenv("AWS_SECRETSMANAGER_ENDPOINT"),
		}, logger)
	case "vault":
		return NewVaultSource(VaultConfig{
			Address:   os.Getenv("VAULT_ADDR"),
			Token:     os.Getenv("VAULT_TOKEN"),
			RoleID:    os.Getenv("VAULT_ROLE_ID"),
			SecretID:  os.Getenv("VAULT_SECRET_ID"),
			Namespace: os.Getenv("VAULT_NAMESPACE"),
			MountPath: os.Getenv("VAULT_MOUNT_PATH"),
			KVVersion: os.Getenv("VAULT_KV_VERSION"),
		}, logger)
	default:
		return nil, fmt.Errorf("unknown secrets backend %q", backend)
	}
}

// EnvSource reads secrets straight from environment variables. The
// development default.
type EnvSource struct{}

func (EnvSource) Lookup(_ context.Context, path string) (string, error) {
	value := os.Getenv(path)
	if value == "" {
		return "", fmt.Errorf("secret %s not set in environment", path)
	}
	return value, nil
}

// FileSource reads secrets from files under Dir, one secret per file.
// Matches mounted kubernetes secret volumes.
type FileSource struct {
	Dir string
}

func (s FileSource) Lookup(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir, filepath.Clean(path)))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("secret %s not found", path)
		}
		return "", fmt.Errorf("read secret %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// cache is a TTL read cache shared by the remote sources, so a burst of
// lookups at startup hits the backend once per path.
type cache struct {
	entries map[string]cacheEntry
	ttl     time.Duration
	mu      sync.Mutex
}

type cacheEntry struct {
	expiresAt time.Time
	value     string
}

func newCache(ttl time.Duration) *cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
	}
}

func (c *cache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return "", false
	}
	return entry.value, true
}

func (c *cache) set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{
		expiresAt: time.Now().Add(c.ttl),
		value:     value,
	}
}
