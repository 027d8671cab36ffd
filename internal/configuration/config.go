package configuration

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

const FilePath = "configuration/configuration.yaml"

type Config struct {
	Storage  StorageSettings `yaml:"storage"`
	Workers  WorkerSettings  `yaml:"workers"`
	Catalog  CatalogSettings `yaml:"catalog"`
	Matching MatchSettings   `yaml:"matching"`
	Sources  []SourceConfig  `yaml:"sources"`
	Projects []ProjectConfig `yaml:"projects"`
	Notify   NotifySettings  `yaml:"notify"`
}

type StorageSettings struct {
	Path string `yaml:"path"`
}

type WorkerSettings struct {
	Ingest         int           `yaml:"ingest"`
	StaggerSeconds int           `yaml:"stagger_seconds"`
	RetryCount     int           `yaml:"retry_count"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
}

type CatalogSettings struct {
	StagingDir string `yaml:"staging_dir"`
	BatchSize  int    `yaml:"batch_size"`
}

type MatchSettings struct {
	ChunkSize      int  `yaml:"chunk_size"`
	MediumIsSevere bool `yaml:"medium_is_severe"`
}

type SourceConfig struct {
	Name      string `yaml:"name"`
	Format    string `yaml:"format"`
	URL       string `yaml:"url"`
	Exclusive bool   `yaml:"exclusive"`
	Disabled  bool   `yaml:"disabled"`
}

type ProjectConfig struct {
	Name     string   `yaml:"name"`
	Repo     string   `yaml:"repo"`
	Tags     []string `yaml:"tags"`
	Disabled bool     `yaml:"disabled"`
}

type NotifySettings struct {
	SlackWebhook string `yaml:"slack_webhook"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = FilePath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling configuration: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

// Default returns a runnable configuration when no file is present.
func Default() *Config {
	config := &Config{}
	config.applyDefaults()
	return config
}

func (c *Config) applyDefaults() {
	if c.Storage.Path == "" {
		c.Storage.Path = "advidex.db"
	}
	if c.Workers.Ingest <= 0 {
		c.Workers.Ingest = runtime.NumCPU()
	}
	if c.Workers.RetryCount <= 0 {
		c.Workers.RetryCount = 3
	}
	if c.Workers.RetryBackoff <= 0 {
		c.Workers.RetryBackoff = 5 * time.Second
	}
	if c.Catalog.BatchSize <= 0 {
		c.Catalog.BatchSize = 1000
	}
	if c.Matching.ChunkSize <= 0 {
		c.Matching.ChunkSize = 300
	}
}
