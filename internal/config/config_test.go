package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) *Manager {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFilename), []byte(content), 0o644))
	return NewManager(dir)
}

func TestLoadAppliesDefaults(t *testing.T) {
	mgr := NewManager(t.TempDir())

	cfg, err := mgr.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultLongContextTokens, cfg.Router.LongContextTokens)
	assert.False(t, mgr.Exists())
}

func TestLoadFromFile(t *testing.T) {
	mgr := writeConfig(t, `
port: 7070
api_key: proxy-secret
providers:
  - name: openai
    api_key: sk-test
    models:
      - gpt-4o
  - name: openrouter
    api_key_env: OPENROUTER_KEY
router:
  default: openai,gpt-4o
  background: openai,gpt-4o-mini
audit:
  enabled: true
  path: /tmp/audit.jsonl
`)

	cfg, err := mgr.Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, "proxy-secret", cfg.APIKey)
	assert.Equal(t, "openai,gpt-4o", cfg.Router.Default)
	assert.True(t, cfg.Audit.Enabled)

	openai, ok := cfg.Provider("openai")
	require.True(t, ok)
	assert.Equal(t, []string{"gpt-4o"}, openai.Models)

	_, ok = cfg.Provider("gemini")
	assert.False(t, ok)
}

func TestEnvOverlay(t *testing.T) {
	t.Setenv("CSW_PORT", "9999")
	t.Setenv("CSW_ROUTER_DEFAULT", "gemini,gemini-2.5-pro")

	mgr := writeConfig(t, "port: 7070\nrouter:\n  default: openai,gpt-4o\n")

	cfg, err := mgr.Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "gemini,gemini-2.5-pro", cfg.Router.Default)
}

func TestSaveRoundTrip(t *testing.T) {
	mgr := NewManager(t.TempDir())

	cfg := &Config{
		Port:   7070,
		APIKey: "proxy-secret",
		Providers: []Provider{
			{Name: "openai", APIKey: "sk-test", Models: []string{"gpt-4o"}},
		},
		Router: Router{Default: "openai,gpt-4o"},
	}
	require.NoError(t, mgr.Save(cfg))
	assert.True(t, mgr.Exists())

	loaded, err := mgr.Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, loaded.Port)
	assert.Equal(t, "proxy-secret", loaded.APIKey)
	require.Len(t, loaded.Providers, 1)
	assert.Equal(t, cfg.Providers[0], loaded.Providers[0])
	assert.Equal(t, "openai,gpt-4o", loaded.Router.Default)
}

func TestGetFallsBackToDefaults(t *testing.T) {
	mgr := NewManager(t.TempDir())
	cfg := mgr.Get()
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
}

func TestSplitModelRef(t *testing.T) {
	provider, model := SplitModelRef("openai,gpt-4o")
	assert.Equal(t, "openai", provider)
	assert.Equal(t, "gpt-4o", model)

	provider, model = SplitModelRef("gpt-4o")
	assert.Empty(t, provider)
	assert.Equal(t, "gpt-4o", model)

	provider, model = SplitModelRef("openrouter,qwen/qwen3-coder,free")
	assert.Equal(t, "openrouter", provider)
	assert.Equal(t, "qwen/qwen3-coder,free", model)
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("TEST_PROVIDER_KEY", "from-env")

	inline := Provider{APIKey: "inline", APIKeyEnv: "TEST_PROVIDER_KEY"}
	assert.Equal(t, "inline", inline.ResolveAPIKey())

	env := Provider{APIKeyEnv: "TEST_PROVIDER_KEY"}
	assert.Equal(t, "from-env", env.ResolveAPIKey())

	missing := Provider{APIKeyEnv: "TEST_PROVIDER_KEY_MISSING"}
	assert.Empty(t, missing.ResolveAPIKey())

	var none Provider
	assert.Empty(t, none.ResolveAPIKey())
}
