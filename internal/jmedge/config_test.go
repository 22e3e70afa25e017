package jmedge

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
server:
  origin: http://web:3000/
cache:
  version: " v4 "
`))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "http://web:3000", cfg.Server.Origin)
	assert.Equal(t, "v4", cfg.Cache.Version)
	assert.Equal(t, defaultShellAssets, cfg.Shell.Assets)
	assert.Equal(t, defaultStaticPrefixes, cfg.Static.Prefixes)
	assert.Equal(t, defaultStaticFiles, cfg.Static.Files)
	assert.Equal(t, defaultStaticDestinations, cfg.Static.Destinations)
	assert.Equal(t, time.Minute, cfg.Install.retryEveryDur)
	assert.Zero(t, cfg.Logging.logStatsEveryDur)
	assert.False(t, cfg.Maintenance.Enabled)
	assert.Equal(t, "/maintenance", cfg.Maintenance.Page)
	assert.Equal(t, []string{"admin", "master"}, cfg.Maintenance.PrivilegedRoles)
}

func TestParseConfig_Full(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
server:
  port: 9000
  origin: http://web:3000
  publicOrigin: HTTPS://App.Example.com:443/ignored
cache:
  version: v5
  dir: /var/lib/jmedge
  ram:
    max: 64mb
  maxEntry: 2m
shell:
  assets: ["/", "/offline"]
static:
  prefixes: ["/assets/"]
  files: []
install:
  retryEvery: 30s
logging:
  logStatsEvery: 5m
maintenance:
  enabled: true
  settingsURL: https://api.example.com/system-settings
  roleCookie: user_role
`))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "https://app.example.com", cfg.Server.PublicOrigin)
	assert.Equal(t, int64(64<<20), cfg.Cache.ramMaxBytes)
	assert.Equal(t, int64(2<<20), cfg.Cache.maxEntryBytes)
	assert.Equal(t, []string{"/", "/offline"}, cfg.Shell.Assets)
	assert.Equal(t, []string{"/assets/"}, cfg.Static.Prefixes)
	assert.Empty(t, cfg.Static.Files)
	assert.Equal(t, defaultStaticDestinations, cfg.Static.Destinations)
	assert.Equal(t, 30*time.Second, cfg.Install.retryEveryDur)
	assert.Equal(t, 5*time.Minute, cfg.Logging.logStatsEveryDur)
	assert.Equal(t, "user_role", cfg.Maintenance.RoleCookie)
}

func TestParseConfig_Errors(t *testing.T) {
	tests := map[string]string{
		"missing origin":     "cache: {version: v1}",
		"missing version":    "server: {origin: http://web}",
		"bad public origin":  "server: {origin: http://web, publicOrigin: app.example.com}",
		"bad ram size":       "server: {origin: http://web}\ncache: {version: v1, ram: {max: lots}}",
		"bad max entry":      "server: {origin: http://web}\ncache: {version: v1, maxEntry: -1k}",
		"relative shell":     "server: {origin: http://web}\ncache: {version: v1}\nshell: {assets: [icon.svg]}",
		"bad retry":          "server: {origin: http://web}\ncache: {version: v1}\ninstall: {retryEvery: soon}",
		"zero retry":         "server: {origin: http://web}\ncache: {version: v1}\ninstall: {retryEvery: 0s}",
		"bad stats interval": "server: {origin: http://web}\ncache: {version: v1}\nlogging: {logStatsEvery: often}",
		"maintenance no url": "server: {origin: http://web}\ncache: {version: v1}\nmaintenance: {enabled: true}",
		"not yaml":           "server: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jmedge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: {origin: http://web}\ncache: {version: v2}\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "v2", cfg.Cache.Version)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
