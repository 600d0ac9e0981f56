package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SecretProvider defines the interface for retrieving secrets from various sources
type SecretProvider interface {
	// GetSecret retrieves a secret value by key
	GetSecret(ctx context.Context, key string) (string, error)

	// Name returns the provider name for logging/debugging
	Name() string

	// IsAvailable checks if this provider is available/configured
	IsAvailable(ctx context.Context) bool
}

// ChainProvider tries providers in order and returns the first non-empty value.
type ChainProvider struct {
	providers []SecretProvider
}

// NewChainProvider creates a new chain provider with the given providers
func NewChainProvider(providers ...SecretProvider) *ChainProvider {
	return &ChainProvider{
		providers: providers,
	}
}

// GetSecret tries each provider in order until one succeeds
func (c *ChainProvider) GetSecret(ctx context.Context, key string) (string, error) {
	var lastErr error

	for _, provider := range c.providers {
		if !provider.IsAvailable(ctx) {
			continue
		}

		value, err := provider.GetSecret(ctx, key)
		if err == nil && value != "" {
			return value, nil
		}
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", provider.Name(), err)
		}
	}

	if lastErr != nil {
		return "", fmt.Errorf("all providers failed, last error: %w", lastErr)
	}
	return "", fmt.Errorf("no available provider found for key: %s", key)
}

// Name returns the chain provider name
func (c *ChainProvider) Name() string {
	return "chain"
}

// IsAvailable checks if any provider in the chain is available
func (c *ChainProvider) IsAvailable(ctx context.Context) bool {
	for _, provider := range c.providers {
		if provider.IsAvailable(ctx) {
			return true
		}
	}
	return false
}

// Sources lists the providers that are currently available, in lookup order.
func (c *ChainProvider) Sources(ctx context.Context) []string {
	var names []string
	for _, provider := range c.providers {
		if provider.IsAvailable(ctx) {
			names = append(names, provider.Name())
		}
	}
	return names
}

// EnvPrefix namespaces variables that would otherwise collide on shared hosts,
// e.g. QUERY_BOT_MONGO_URI wins over MONGO_URI.
const EnvPrefix = "QUERY_BOT_"

// EnvProvider retrieves secrets from environment variables
type EnvProvider struct{}

// NewEnvProvider creates a new environment variable provider
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

// GetSecret returns the prefixed variable if set, otherwise the plain one.
func (e *EnvProvider) GetSecret(ctx context.Context, key string) (string, error) {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok {
		return v, nil
	}
	return os.Getenv(key), nil
}

// Name returns the provider name
func (e *EnvProvider) Name() string {
	return "env"
}

// IsAvailable always returns true as env vars are always available
func (e *EnvProvider) IsAvailable(ctx context.Context) bool {
	return true
}

// FileProvider reads one secret per file from a mounted directory.
// GEMINI_API_KEY is read from <dir>/gemini-api-key.
type FileProvider struct {
	secretsPath string
}

// NewFileProvider creates a new file-based secret provider
func NewFileProvider(secretsPath string) *FileProvider {
	return &FileProvider{
		secretsPath: secretsPath,
	}
}

// SecretFileName maps an environment variable name to its mounted file name.
func SecretFileName(key string) string {
	return strings.ToLower(strings.ReplaceAll(key, "_", "-"))
}

// GetSecret retrieves a secret from a file. A missing file is not an error.
func (f *FileProvider) GetSecret(ctx context.Context, key string) (string, error) {
	if f.secretsPath == "" {
		return "", fmt.Errorf("secrets path not configured")
	}

	path := filepath.Join(f.secretsPath, SecretFileName(key))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read secret file %s: %w", path, err)
	}

	return strings.TrimSpace(string(data)), nil
}

// Name returns the provider name
func (f *FileProvider) Name() string {
	return "file"
}

// IsAvailable checks if the secrets directory exists
func (f *FileProvider) IsAvailable(ctx context.Context) bool {
	if f.secretsPath == "" {
		return false
	}

	info, err := os.Stat(f.secretsPath)
	if err != nil {
		return false
	}
	return info.IsDir()
}

const serviceAccountDir = "/var/run/secrets/kubernetes.io/serviceaccount"

// K8sProvider reads mounted secrets when running inside a pod.
type K8sProvider struct {
	*FileProvider
	namespace  string
	accountDir string
}

// NewK8sProvider creates a provider over secretsPath (default /var/secrets).
// The namespace is read from the service account when not given.
func NewK8sProvider(secretsPath, namespace string) *K8sProvider {
	if secretsPath == "" {
		secretsPath = "/var/secrets"
	}
	if namespace == "" {
		namespace = "default"
		if ns, err := os.ReadFile(filepath.Join(serviceAccountDir, "namespace")); err == nil {
			namespace = strings.TrimSpace(string(ns))
		}
	}

	return &K8sProvider{
		FileProvider: NewFileProvider(secretsPath),
		namespace:    namespace,
		accountDir:   serviceAccountDir,
	}
}

// Name returns the provider name
func (k *K8sProvider) Name() string {
	return "kubernetes"
}

// IsAvailable requires a service account token and the secrets directory.
func (k *K8sProvider) IsAvailable(ctx context.Context) bool {
	if _, err := os.Stat(filepath.Join(k.accountDir, "token")); err != nil {
		return false
	}
	return k.FileProvider.IsAvailable(ctx)
}

// GetNamespace returns the current Kubernetes namespace
func (k *K8sProvider) GetNamespace() string {
	return k.namespace
}
