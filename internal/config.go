// Package internal holds the tool-level configuration shared by every
// command.
package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/tvaino/pakkeri/internal/install"
)

// Config represents the tool configuration.
type Config struct {
	App       ApplicationConfig           `yaml:"app"`
	Cache     CacheConfig                 `yaml:"cache"`
	Registry  RegistryConfig              `yaml:"registry"`
	Instances map[string]install.Instance `yaml:"instances"`
	// DefaultInstance names the instance used when --instance is omitted.
	DefaultInstance string `yaml:"default_instance"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Registry.Validate(); err != nil {
		return err
	}
	for name, inst := range c.Instances {
		if inst.Path == "" {
			return fmt.Errorf("config: instance %s: path is required", name)
		}
		if _, err := install.ParseKind(string(inst.Kind)); err != nil {
			return fmt.Errorf("config: instance %s: %w", name, err)
		}
	}
	if c.DefaultInstance != "" {
		if _, ok := c.Instances[c.DefaultInstance]; !ok {
			return fmt.Errorf("config: default instance %q is not declared", c.DefaultInstance)
		}
	}
	return nil
}

// Instance returns the named instance, falling back to the default.
func (c *Config) Instance(name string) (*install.Instance, error) {
	if name == "" {
		name = c.DefaultInstance
	}
	if name == "" {
		return nil, fmt.Errorf("config: no instance given and no default set")
	}
	inst, ok := c.Instances[name]
	if !ok {
		return nil, fmt.Errorf("config: unknown instance %q", name)
	}
	inst.Name = name
	return &inst, nil
}

// ApplicationConfig holds tool-level settings.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
}

// CacheConfig holds the artifact cache location.
type CacheConfig struct {
	Dir string `yaml:"dir"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
	)
}

// RegistryConfig holds the mod registry endpoint.
type RegistryConfig struct {
	BaseURL string `yaml:"base_url"`
}

// Validate validates the registry configuration.
func (c *RegistryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required),
	)
}

// NewDefaultConfig returns a Config with sensible default values. The
// cache lands under the user cache directory when one is known.
func NewDefaultConfig() *Config {
	cacheDir := ".pakkeri-cache"
	if base, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(base, "pakkeri")
	}
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
		},
		Cache: CacheConfig{
			Dir: cacheDir,
		},
		Registry: RegistryConfig{
			BaseURL: "https://api.modrinth.com",
		},
	}
}
