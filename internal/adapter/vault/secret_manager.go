package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/seu-repo/voxdesk/pkg/config"
)

// ErrSecretNotFound is returned when nothing is stored at the configured path.
var ErrSecretNotFound = errors.New("vault: secret not found")

// Secret keys read from the KV v2 entry.
const (
	KeyTelnyxAPIKey    = "telnyx_api_key"
	KeyResponderAPIKey = "responder_api_key"
	KeyDatabaseURL     = "database_url"
	KeyRedisURL        = "redis_url"
)

type SecretManager struct {
	client *api.Client
	path   string
	log    *zap.Logger
}

func NewSecretManager(cfg config.VaultConfig, log *zap.Logger) (*SecretManager, error) {
	vaultCfg := api.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := api.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("vault: create client: %w", err)
	}

	client.SetToken(cfg.Token)

	return &SecretManager{client: client, path: cfg.Path, log: log}, nil
}

// Secrets reads the KV v2 entry and returns its string values.
func (sm *SecretManager) Secrets(ctx context.Context) (map[string]string, error) {
	secret, err := sm.client.Logical().ReadWithContext(ctx, sm.path)
	if err != nil {
		return nil, fmt.Errorf("vault: read %s: %w", sm.path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, ErrSecretNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, ErrSecretNotFound
	}

	values := make(map[string]string, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok {
			values[k] = s
		}
	}
	return values, nil
}

// Apply overrides credentials in cfg with the values stored in Vault.
// Keys absent from the entry leave the loaded configuration untouched.
func (sm *SecretManager) Apply(ctx context.Context, cfg *config.Config) error {
	values, err := sm.Secrets(ctx)
	if err != nil {
		return err
	}

	targets := map[string]*string{
		KeyTelnyxAPIKey:    &cfg.Telnyx.APIKey,
		KeyResponderAPIKey: &cfg.Responder.APIKey,
		KeyDatabaseURL:     &cfg.Database.URL,
		KeyRedisURL:        &cfg.Redis.URL,
	}

	for key, target := range targets {
		if v := values[key]; v != "" {
			*target = v
			sm.log.Info("Loaded secret from vault", zap.String("key", key))
		}
	}
	return nil
}
