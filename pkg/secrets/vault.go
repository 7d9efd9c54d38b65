// Package secrets seeds process environment from a Vault KV path so
// credentials such as DB_PASSWORD, LABELING_API_KEY and
// PUSH_EXPO_ACCESS_TOKEN never live in deployment manifests.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// VaultConfig selects the KV secret to load
type VaultConfig struct {
	Enabled   bool
	Addr      string
	Token     string
	Namespace string
	Mount     string
	Path      string
	KVVersion int
	Timeout   time.Duration
	// Overwrite replaces variables that are already set
	Overwrite bool
}

// VaultResult reports what Apply did
type VaultResult struct {
	Path    string
	Loaded  int
	Skipped int
}

// LoadVaultConfigFromEnv reads VAULT_* variables
func LoadVaultConfigFromEnv() VaultConfig {
	cfg := VaultConfig{
		Enabled:   strings.EqualFold(os.Getenv("VAULT_ENABLED"), "true"),
		Addr:      os.Getenv("VAULT_ADDR"),
		Token:     os.Getenv("VAULT_TOKEN"),
		Namespace: os.Getenv("VAULT_NAMESPACE"),
		Mount:     os.Getenv("VAULT_MOUNT"),
		Path:      os.Getenv("VAULT_PATH"),
		KVVersion: 2,
		Timeout:   5 * time.Second,
		Overwrite: strings.EqualFold(os.Getenv("VAULT_OVERWRITE"), "true"),
	}
	if cfg.Mount == "" {
		cfg.Mount = "secret"
	}
	if v, err := strconv.Atoi(os.Getenv("VAULT_KV_VERSION")); err == nil {
		cfg.KVVersion = v
	}
	if v, err := strconv.Atoi(os.Getenv("VAULT_TIMEOUT_MS")); err == nil && v > 0 {
		cfg.Timeout = time.Duration(v) * time.Millisecond
	}
	return cfg
}

// Apply fetches the secret and exports each key as an environment variable.
// It is a no-op when Vault is disabled.
func Apply(ctx context.Context, cfg VaultConfig) (VaultResult, error) {
	result := VaultResult{Path: cfg.Path}
	if !cfg.Enabled {
		return result, nil
	}

	data, err := Fetch(ctx, cfg)
	if err != nil {
		return result, err
	}
	for key, value := range data {
		if !cfg.Overwrite && os.Getenv(key) != "" {
			result.Skipped++
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return result, fmt.Errorf("failed to export %s: %w", key, err)
		}
		result.Loaded++
	}
	return result, nil
}

// Fetch reads the secret at cfg.Path as flat string values
func Fetch(ctx context.Context, cfg VaultConfig) (map[string]string, error) {
	if cfg.Addr == "" || cfg.Token == "" || cfg.Path == "" {
		return nil, errors.New("vault configuration incomplete (VAULT_ADDR, VAULT_TOKEN, VAULT_PATH)")
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.Addr, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("X-Vault-Token", cfg.Token)
	if cfg.Namespace != "" {
		client.SetHeader("X-Vault-Namespace", cfg.Namespace)
	}

	var payload struct {
		Data json.RawMessage `json:"data"`
	}
	resp, err := client.R().
		SetContext(ctx).
		SetResult(&payload).
		Get(secretPath(cfg.Mount, cfg.Path, cfg.KVVersion))
	if err != nil {
		return nil, fmt.Errorf("vault request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("vault fetch failed: %s %s", resp.Status(), strings.TrimSpace(resp.String()))
	}

	raw := payload.Data
	if cfg.KVVersion != 1 {
		var inner struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &inner); err != nil || len(inner.Data) == 0 {
			return nil, errors.New("vault response missing data for KV v2")
		}
		raw = inner.Data
	}

	var values map[string]interface{}
	if err := json.Unmarshal(raw, &values); err != nil || values == nil {
		return nil, errors.New("vault response has no key/value data")
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = stringify(v)
	}
	return out, nil
}

func secretPath(mount, path string, kvVersion int) string {
	mount = strings.Trim(mount, "/")
	path = strings.TrimLeft(path, "/")
	if kvVersion == 1 {
		return fmt.Sprintf("/v1/%s/%s", mount, path)
	}
	return fmt.Sprintf("/v1/%s/data/%s", mount, path)
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}
