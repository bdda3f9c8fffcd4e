// Package config loads and persists the proxy configuration. A YAML file is
// the source of truth; CSW_-prefixed environment variables overlay it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	goyaml "gopkg.in/yaml.v3"
)

const (
	DefaultHost           = "127.0.0.1"
	DefaultPort           = 6970
	DefaultConfigFilename = "config.yaml"

	envPrefix = "CSW_"

	// DefaultLongContextTokens is the input size past which the long
	// context route takes over.
	DefaultLongContextTokens = 60000
)

// Provider configures one backend. The key may be inline or named by an
// environment variable; ResolveAPIKey prefers the inline value.
type Provider struct {
	Name      string   `koanf:"name" yaml:"name"`
	APIBase   string   `koanf:"api_base" yaml:"api_base,omitempty"`
	APIKey    string   `koanf:"api_key" yaml:"api_key,omitempty"`
	APIKeyEnv string   `koanf:"api_key_env" yaml:"api_key_env,omitempty"`
	Models    []string `koanf:"models" yaml:"models,omitempty"`
}

func (p *Provider) ResolveAPIKey() string {
	if p.APIKey != "" {
		return p.APIKey
	}
	if p.APIKeyEnv != "" {
		return os.Getenv(p.APIKeyEnv)
	}
	return ""
}

// Router names the model routes as "provider,model" references.
type Router struct {
	Default           string `koanf:"default" yaml:"default"`
	Background        string `koanf:"background" yaml:"background,omitempty"`
	Think             string `koanf:"think" yaml:"think,omitempty"`
	LongContext       string `koanf:"longcontext" yaml:"longcontext,omitempty"`
	LongContextTokens int    `koanf:"longcontext_tokens" yaml:"longcontext_tokens,omitempty"`
}

// Audit configures the request/response audit trail.
type Audit struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled,omitempty"`
	Path    string `koanf:"path" yaml:"path,omitempty"`
}

type Config struct {
	Host      string     `koanf:"host" yaml:"host,omitempty"`
	Port      int        `koanf:"port" yaml:"port,omitempty"`
	APIKey    string     `koanf:"api_key" yaml:"api_key,omitempty"`
	Audit     Audit      `koanf:"audit" yaml:"audit,omitempty"`
	Providers []Provider `koanf:"providers" yaml:"providers"`
	Router    Router     `koanf:"router" yaml:"router"`
}

// Provider looks up a provider entry by name.
func (c *Config) Provider(name string) (*Provider, bool) {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i], true
		}
	}
	return nil, false
}

// SplitModelRef splits a "provider,model" route reference. A reference with
// no provider part returns an empty provider.
func SplitModelRef(ref string) (provider, model string) {
	if i := strings.Index(ref, ","); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return "", ref
}

// Manager owns the config file and the loaded snapshot. Get is safe for
// concurrent readers; Load and Save swap the snapshot atomically.
type Manager struct {
	configPath  string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		configPath: filepath.Join(baseDir, DefaultConfigFilename),
	}
}

func (m *Manager) Load() (*Config, error) {
	k := koanf.New(".")

	if _, err := os.Stat(m.configPath); err == nil {
		if err := k.Load(file.Provider(m.configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	// Environment overlay: CSW_ROUTER_DEFAULT becomes router.default.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Router.LongContextTokens == 0 {
		cfg.Router.LongContextTokens = DefaultLongContextTokens
	}

	m.configValue.Store(&cfg)
	return &cfg, nil
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		return &Config{
			Host: DefaultHost,
			Port: DefaultPort,
			Router: Router{
				LongContextTokens: DefaultLongContextTokens,
			},
		}
	}
	return cfg
}

func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := goyaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)
	return nil
}

func (m *Manager) GetPath() string {
	return m.configPath
}

func (m *Manager) Exists() bool {
	_, err := os.Stat(m.configPath)
	return err == nil
}
