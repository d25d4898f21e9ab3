package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ``))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8428, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, "./data/anipush.db", cfg.Database.Path)
	assert.Equal(t, "./data/images", cfg.Workdir.CacheDir)
	assert.Equal(t, 60*time.Second, cfg.Push.DebounceWindow())
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[server]
port = 9000
log_level = "debug"

[emby]
host = "http://emby.local:8096"
api_key = "k"

[onebot]
url = "http://bot.local:3000"
access_token = "secret"

[features]
emby_enabled = true
title_match = true

[push]
debounce_seconds = 30

[push.anirss]
groups = ["123"]
private = ["1", "2"]
`))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.True(t, cfg.Features.EmbyEnabled)
	assert.True(t, cfg.Features.TitleMatch)
	assert.Equal(t, 30*time.Second, cfg.Push.DebounceWindow())
	assert.Equal(t, []string{"123"}, cfg.Push.AniRSS.Groups)
	assert.Equal(t, []string{"1", "2"}, cfg.Push.AniRSS.Private)
}

func TestLoadEnvSubstitution(t *testing.T) {
	t.Setenv("ANIPUSH_TEST_TOKEN", "tok123")
	cfg, err := Load(writeConfig(t, `
[onebot]
url = "http://bot.local:3000"
access_token = "${ANIPUSH_TEST_TOKEN}"
`))
	require.NoError(t, err)
	assert.Equal(t, "tok123", cfg.OneBot.AccessToken)
}

func TestLoadMissingEnvVar(t *testing.T) {
	_, err := Load(writeConfig(t, `
[onebot]
access_token = "${ANIPUSH_DEFINITELY_UNSET}"
`))
	require.Error(t, err)
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Missing, "ANIPUSH_DEFINITELY_UNSET")
}

func TestValidateRejectsBadValues(t *testing.T) {
	_, err := Load(writeConfig(t, `
[server]
port = 70000
log_level = "loud"
`))
	require.Error(t, err)
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Len(t, cerr.Errors, 2)
}

func TestValidateEmbyFeatureNeedsCredentials(t *testing.T) {
	_, err := Load(writeConfig(t, `
[features]
emby_enabled = true
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "emby.host")
	assert.Contains(t, err.Error(), "emby.api_key")
}

func TestValidateTargetsNeedTransport(t *testing.T) {
	_, err := Load(writeConfig(t, `
[push.emby]
groups = ["123"]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "onebot.url")
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	t.Setenv("EMBY_API_KEY", "k")
	t.Setenv("ONEBOT_TOKEN", "t")

	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	require.NoError(t, WriteDefault(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "k", cfg.Emby.APIKey)
	assert.True(t, cfg.Features.EmbyEnabled)
}

func TestDiscoverEnvOverride(t *testing.T) {
	path := writeConfig(t, ``)
	t.Setenv("ANIPUSH_CONFIG", path)

	got, derr := Discover()
	require.NoError(t, derr)
	assert.Equal(t, path, got)

	t.Setenv("ANIPUSH_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))
	_, derr = Discover()
	assert.Error(t, derr)
}
