package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App struct {
		Port    int    `yaml:"port"`
		DataDir string `yaml:"data_dir"`
	} `yaml:"app"`

	Upstream struct {
		BaseURL        string  `yaml:"base_url"`
		UserID         string  `yaml:"user_id"`
		UserAgent      string  `yaml:"user_agent"`
		PageSize       int     `yaml:"page_size"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
		ReqPerSec      float64 `yaml:"req_per_sec"`
	} `yaml:"upstream"`

	Sync struct {
		Enabled         bool `yaml:"enabled"`
		OnStartup       bool `yaml:"on_startup"`
		IntervalSeconds int  `yaml:"interval_seconds"`
	} `yaml:"sync"`

	Enrichment struct {
		DelayMs           int `yaml:"delay_ms"`
		BatchSize         int `yaml:"batch_size"`
		BatchPauseSeconds int `yaml:"batch_pause_seconds"`
	} `yaml:"enrichment"`

	Session struct {
		ScriptPath          string `yaml:"script_path"`
		AutoRefresh         bool   `yaml:"auto_refresh"`
		LoginTimeoutSeconds int    `yaml:"login_timeout_seconds"`
		InitialCookies      string `yaml:"initial_cookies"`
	} `yaml:"session"`
}

func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Port == 0 {
		c.App.Port = 38540
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = "https://www.vinted.fr"
	}
	if c.Upstream.UserAgent == "" {
		c.Upstream.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	}
	if c.Upstream.PageSize == 0 {
		c.Upstream.PageSize = 20
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.ReqPerSec == 0 {
		c.Upstream.ReqPerSec = 1
	}
	if c.Sync.IntervalSeconds == 0 {
		c.Sync.IntervalSeconds = 1800
	}
	if c.Enrichment.DelayMs == 0 {
		c.Enrichment.DelayMs = 2000
	}
	if c.Enrichment.BatchSize == 0 {
		c.Enrichment.BatchSize = 20
	}
	if c.Enrichment.BatchPauseSeconds == 0 {
		c.Enrichment.BatchPauseSeconds = 10
	}
	if c.Session.ScriptPath == "" {
		c.Session.ScriptPath = "scripts/vinted-session-manager.js"
	}
	if c.Session.LoginTimeoutSeconds == 0 {
		c.Session.LoginTimeoutSeconds = 120
	}
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSeconds) * time.Second
}

func (c Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.IntervalSeconds) * time.Second
}

func (c Config) EnrichmentDelay() time.Duration {
	return time.Duration(c.Enrichment.DelayMs) * time.Millisecond
}

func (c Config) BatchPause() time.Duration {
	return time.Duration(c.Enrichment.BatchPauseSeconds) * time.Second
}

func (c Config) LoginTimeout() time.Duration {
	return time.Duration(c.Session.LoginTimeoutSeconds) * time.Second
}
