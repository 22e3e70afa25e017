package jmedge

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	defaultShellAssets = []string{
		"/",
		"/manifest.webmanifest",
		"/icon.svg",
		"/images/icon-wt.png",
		"/images/adaptive-icon.png",
		"/images/splash-icon.png",
	}
	defaultStaticPrefixes     = []string{"/_next/static/", "/images/"}
	defaultStaticFiles        = []string{"/icon.svg", "/manifest.webmanifest"}
	defaultStaticDestinations = []string{"style", "script", "font", "image"}
)

type Config struct {
	Server struct {
		Port   int    `yaml:"port"`
		Origin string `yaml:"origin"`
		// PublicOrigin is the application's own origin as seen by browsers.
		// Requests addressed to any other origin are never intercepted.
		PublicOrigin string `yaml:"publicOrigin"`
	} `yaml:"server"`

	Cache struct {
		Version string `yaml:"version"`
		Dir     string `yaml:"dir"`
		RAM     struct {
			Max string `yaml:"max"`
		} `yaml:"ram"`
		MaxEntry string `yaml:"maxEntry"`

		ramMaxBytes   int64
		maxEntryBytes int64
	} `yaml:"cache"`

	Shell struct {
		Assets []string `yaml:"assets"`
	} `yaml:"shell"`

	Static struct {
		Prefixes     []string `yaml:"prefixes"`
		Files        []string `yaml:"files"`
		Destinations []string `yaml:"destinations"`
	} `yaml:"static"`

	Install struct {
		RetryEvery string `yaml:"retryEvery"`

		retryEveryDur time.Duration
	} `yaml:"install"`

	Logging struct {
		LogStatsEvery string `yaml:"logStatsEvery"`

		logStatsEveryDur time.Duration
	} `yaml:"logging"`

	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

type MaintenanceConfig struct {
	Enabled         bool     `yaml:"enabled"`
	SettingsURL     string   `yaml:"settingsURL"`
	Page            string   `yaml:"page"`
	CheckIn         string   `yaml:"checkIn"`
	Dashboard       string   `yaml:"dashboard"`
	RoleCookie      string   `yaml:"roleCookie"`
	PrivilegedRoles []string `yaml:"privilegedRoles"`
}

func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(b)
}

// ParseConfig decodes a YAML document, applies defaults and compiles
// durations and sizes.
func ParseConfig(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Origin == "" {
		return Config{}, fmt.Errorf("server.origin is required")
	}
	cfg.Server.Origin = strings.TrimRight(cfg.Server.Origin, "/")
	if cfg.Server.PublicOrigin != "" {
		u, err := url.Parse(cfg.Server.PublicOrigin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return Config{}, fmt.Errorf("server.publicOrigin: invalid origin %q", cfg.Server.PublicOrigin)
		}
		cfg.Server.PublicOrigin = normalizeOrigin(u.Scheme, u.Host)
	}

	cfg.Cache.Version = strings.TrimSpace(cfg.Cache.Version)
	if cfg.Cache.Version == "" {
		return Config{}, fmt.Errorf("cache.version is required")
	}
	if cfg.Cache.RAM.Max != "" {
		n, err := parseBytes(cfg.Cache.RAM.Max)
		if err != nil {
			return Config{}, fmt.Errorf("cache.ram.max: %w", err)
		}
		cfg.Cache.ramMaxBytes = n
	}
	if cfg.Cache.MaxEntry != "" {
		n, err := parseBytes(cfg.Cache.MaxEntry)
		if err != nil {
			return Config{}, fmt.Errorf("cache.maxEntry: %w", err)
		}
		cfg.Cache.maxEntryBytes = n
	}

	if len(cfg.Shell.Assets) == 0 {
		cfg.Shell.Assets = append([]string(nil), defaultShellAssets...)
	}
	for i, a := range cfg.Shell.Assets {
		if !strings.HasPrefix(a, "/") {
			return Config{}, fmt.Errorf("shell.assets[%d]: must start with /, got %q", i, a)
		}
	}
	if cfg.Static.Prefixes == nil {
		cfg.Static.Prefixes = append([]string(nil), defaultStaticPrefixes...)
	}
	if cfg.Static.Files == nil {
		cfg.Static.Files = append([]string(nil), defaultStaticFiles...)
	}
	if cfg.Static.Destinations == nil {
		cfg.Static.Destinations = append([]string(nil), defaultStaticDestinations...)
	}

	if cfg.Install.RetryEvery == "" {
		cfg.Install.RetryEvery = "1m"
	}
	d, err := time.ParseDuration(cfg.Install.RetryEvery)
	if err != nil {
		return Config{}, fmt.Errorf("install.retryEvery: %w", err)
	}
	if d <= 0 {
		return Config{}, fmt.Errorf("install.retryEvery: must be positive")
	}
	cfg.Install.retryEveryDur = d

	if cfg.Logging.LogStatsEvery != "" {
		d, err := time.ParseDuration(cfg.Logging.LogStatsEvery)
		if err != nil {
			return Config{}, fmt.Errorf("logging.logStatsEvery: %w", err)
		}
		cfg.Logging.logStatsEveryDur = d
	}

	if err := cfg.Maintenance.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (m *MaintenanceConfig) normalize() error {
	if m.Page == "" {
		m.Page = "/maintenance"
	}
	if m.CheckIn == "" {
		m.CheckIn = "/check-in"
	}
	if m.Dashboard == "" {
		m.Dashboard = "/dashboard"
	}
	if m.RoleCookie == "" {
		m.RoleCookie = "role"
	}
	if m.PrivilegedRoles == nil {
		m.PrivilegedRoles = []string{"admin", "master"}
	}
	if m.Enabled && m.SettingsURL == "" {
		return fmt.Errorf("maintenance.settingsURL is required when maintenance is enabled")
	}
	return nil
}
