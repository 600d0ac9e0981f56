package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ViperProvider reads settings from a YAML, TOML or JSON config file.
// Keys match the environment variable names case-insensitively, either flat
// (mongo_uri: ...) or nested one level on the first underscore
// (mongo: {uri: ...}).
type ViperProvider struct {
	path string
	v    *viper.Viper
	err  error
}

// NewViperProvider creates a provider for the file at path. Read errors are
// reported by GetSecret, and IsAvailable is false when the file is missing.
func NewViperProvider(path string) *ViperProvider {
	v := viper.New()
	v.SetConfigFile(path)
	p := &ViperProvider{path: path, v: v}
	if _, err := os.Stat(path); err == nil {
		p.err = v.ReadInConfig()
	}
	return p
}

// GetSecret looks up key in the config file
func (p *ViperProvider) GetSecret(ctx context.Context, key string) (string, error) {
	if p.err != nil {
		return "", fmt.Errorf("failed to read config file %s: %w", p.path, p.err)
	}

	flat := strings.ToLower(key)
	if p.v.IsSet(flat) {
		return p.v.GetString(flat), nil
	}

	if section, rest, ok := strings.Cut(flat, "_"); ok {
		nested := section + "." + rest
		if p.v.IsSet(nested) {
			return p.v.GetString(nested), nil
		}
	}
	return "", nil
}

// Name returns the provider name
func (p *ViperProvider) Name() string {
	return "viper"
}

// IsAvailable reports whether the config file exists
func (p *ViperProvider) IsAvailable(ctx context.Context) bool {
	_, err := os.Stat(p.path)
	return err == nil
}

// DotEnvProvider reads KEY=value pairs from a .env file without touching
// the process environment.
type DotEnvProvider struct {
	path   string
	values map[string]string
}

// NewDotEnvProvider parses the file at path if it exists.
func NewDotEnvProvider(path string) *DotEnvProvider {
	p := &DotEnvProvider{path: path}
	if values, err := godotenv.Read(path); err == nil {
		p.values = values
	}
	return p
}

// GetSecret returns the value for key from the parsed file
func (p *DotEnvProvider) GetSecret(ctx context.Context, key string) (string, error) {
	return p.values[key], nil
}

// Name returns the provider name
func (p *DotEnvProvider) Name() string {
	return "dotenv"
}

// IsAvailable reports whether the file was parsed
func (p *DotEnvProvider) IsAvailable(ctx context.Context) bool {
	return p.values != nil
}
