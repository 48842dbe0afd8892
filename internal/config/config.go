package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Listen      string        `yaml:"listen"`
	MaxUploadMB int64         `yaml:"max_upload_mb"`
	Crawler     CrawlerConfig `yaml:"crawler"`
	Log         LogConfig     `yaml:"log"`
}

// CrawlerConfig controls crawler identification during ingestion. With
// generic true every structurally valid log line is kept; otherwise only
// lines whose user agent contains pattern qualify.
type CrawlerConfig struct {
	Generic bool   `yaml:"generic"`
	Pattern string `yaml:"pattern"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Load reads the YAML config, applying defaults. A missing file yields the
// default configuration.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 64
	}
	if cfg.Crawler.Pattern == "" {
		cfg.Crawler.Pattern = "googlebot"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}
