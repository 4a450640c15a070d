package secrets

import (
	"context"
	"fmt"
	"time"

	vault "github.com/hashicorp/vault/api"

	"github.com/brindlepay/subscription-service/internal/domain/ports"
)

// VaultConfig configures the HashiCorp Vault source.
type VaultConfig struct {
	Address string

	// Token auth wins when set; otherwise RoleID and SecretID perform an
	// AppRole login.
	Token    string
	RoleID   string
	SecretID string

	// Namespace applies to Vault Enterprise only.
	Namespace string

	// MountPath of the KV engine, default "secret".
	MountPath string

	// KVVersion is "v1" or "v2", default "v2".
	KVVersion string

	CacheTTL time.Duration
}

// VaultSource reads secrets from a Vault KV engine. The value is expected
// under the "value" key; failing that, the first string field wins.
type VaultSource struct {
	client *vault.Client
	cfg    VaultConfig
	cache  *cache
	logger ports.Logger
}

var _ Source = (*VaultSource)(nil)

func NewVaultSource(cfg VaultConfig, logger ports.Logger) (*VaultSource, error) {
	if cfg.MountPath == "" {
		cfg.MountPath = "secret"
	}
	if cfg.KVVersion == "" {
		cfg.KVVersion = "v2"
	}

	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address
	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	switch {
	case cfg.Token != "":
		client.SetToken(cfg.Token)
	case cfg.RoleID != "" && cfg.SecretID != "":
		resp, err := client.Logical().Write("auth/approle/login", map[string]any{
			"role_id":   cfg.RoleID,
			"secret_id": cfg.SecretID,
		})
		if err != nil {
			return nil, fmt.Errorf("approle login: %w", err)
		}
		if resp == nil || resp.Auth == nil {
			return nil, fmt.Errorf("approle login returned no auth info")
		}
		client.SetToken(resp.Auth.ClientToken)
	default:
		return nil, fmt.Errorf("vault requires VAULT_TOKEN or VAULT_ROLE_ID/VAULT_SECRET_ID")
	}

	logger.Info("Vault secrets source initialized",
		ports.String("address", cfg.Address),
		ports.String("mount_path", cfg.MountPath),
		ports.String("kv_version", cfg.KVVersion),
	)

	return &VaultSource{
		client: client,
		cfg:    cfg,
		cache:  newCache(cfg.CacheTTL),
		logger: logger,
	}, nil
}

func (s *VaultSource) Lookup(_ context.Context, path string) (string, error) {
	if value, ok := s.cache.get(path); ok {
		return value, nil
	}

	fullPath := s.cfg.MountPath + "/" + path
	if s.cfg.KVVersion == "v2" {
		fullPath = s.cfg.MountPath + "/data/" + path
	}

	secret, err := s.client.Logical().Read(fullPath)
	if err != nil {
		return "", fmt.Errorf("read secret %s: %w", path, err)
	}
	if secret == nil {
		return "", fmt.Errorf("secret %s not found", path)
	}

	data := secret.Data
	if s.cfg.KVVersion == "v2" {
		inner, ok := secret.Data["data"].(map[string]any)
		if !ok {
			return "", fmt.Errorf("secret %s has no data field", path)
		}
		data = inner
	}

	value, _ := data["value"].(string)
	if value == "" {
		for _, v := range data {
			if str, ok := v.(string); ok {
				value = str
				break
			}
		}
	}
	if value == "" {
		return "", fmt.Errorf("secret %s is empty", path)
	}

	s.logger.Debug("Secret resolved", ports.String("path", path))
	s.cache.set(path, value)
	return value, nil
}
