package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "file", cfg.Store.Backend)
	assert.NotEmpty(t, cfg.Store.Dir)
	assert.Equal(t, "71b963c1b7b6d119", cfg.Nintendo.ClientID)
	assert.Equal(t, "54789befb391a838", cfg.Nintendo.PctlClientID)
	assert.Equal(t, "https://accounts.nintendo.com", cfg.Nintendo.AccountsURL)
	assert.Empty(t, cfg.Attestation.ProxyURL)
	assert.Equal(t, 1.0, cfg.Attestation.RatePerSecond)
	assert.False(t, cfg.App.SerializeRefresh)
}

func TestNewViperProvider_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  http_port: 9090
store:
  backend: redis
nintendo:
  znca_version: "2.5.0"
attestation:
  proxy_url: https://znca.example.test/api/znca
`), 0o600))
	t.Setenv("NXAPI_AUTH_API_KEY", "from-env")
	t.Setenv("NXAPI_SERVER_HTTP_PORT", "9191")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	p, err := NewViperProvider(ctx, zap.NewNop(), ConfigFile(path))
	require.NoError(t, err)
	cfg := p.Get()

	assert.Equal(t, 9191, cfg.Server.HTTPPort, "env overrides the file")
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "2.5.0", cfg.Nintendo.ZncaVersion)
	assert.Equal(t, "https://znca.example.test/api/znca", cfg.Attestation.ProxyURL)
	assert.Equal(t, "from-env", cfg.Auth.APIKey)
	assert.Equal(t, "en-GB", cfg.Nintendo.Language, "unset keys keep defaults")
}

func TestNewViperProvider_LegacyProxyEnv(t *testing.T) {
	t.Setenv("VIPER_CONFIG_PATH", t.TempDir())
	t.Setenv("VIPER_CONFIG_NAME", "does-not-exist")
	t.Setenv("ZNCA_API_URL", "https://legacy.example.test/api/znca")

	p, err := NewViperProvider(context.Background(), zap.NewNop(), "")
	require.NoError(t, err)
	assert.Equal(t, "https://legacy.example.test/api/znca", p.Get().Attestation.ProxyURL)
}

func TestNewViperProvider_MissingExplicitFile(t *testing.T) {
	_, err := NewViperProvider(context.Background(), zap.NewNop(), ConfigFile(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Error(t, err)
}
