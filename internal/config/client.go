package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-yaml"
)

// Client is the terminal client's configuration. Values come from the YAML
// file first and are then overridden by BIZDIR_* environment variables.
type Client struct {
	APIBaseURL     string        `yaml:"api_base_url"`
	AssetBaseURL   string        `yaml:"asset_base_url"`
	RelayURL       string        `yaml:"relay_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	Storage struct {
		Path    string `yaml:"path"`
		KeyFile string `yaml:"key_file"`
	} `yaml:"storage"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// DefaultDir is the per-user directory holding the config file, the local
// store and its key.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bizdir"
	}
	return filepath.Join(home, ".bizdir")
}

func DefaultClient() *Client {
	dir := DefaultDir()
	c := &Client{
		APIBaseURL:     "http://localhost:3000/api/",
		AssetBaseURL:   "http://localhost:3000/",
		RelayURL:       "ws://localhost:3001/socket",
		RequestTimeout: 15 * time.Second,
	}
	c.Storage.Path = filepath.Join(dir, "local.db")
	c.Storage.KeyFile = filepath.Join(dir, "storage.key")
	c.Logging.Level = "warn"
	c.Logging.Format = "text"
	return c
}

// LoadClient reads path (a missing file is not an error) on top of the
// defaults and applies environment overrides.
func LoadClient(path string) (*Client, error) {
	cfg := DefaultClient()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Client) applyEnv() {
	c.APIBaseURL = getEnv("BIZDIR_API_URL", c.APIBaseURL)
	c.AssetBaseURL = getEnv("BIZDIR_ASSET_URL", c.AssetBaseURL)
	c.RelayURL = getEnv("BIZDIR_RELAY_URL", c.RelayURL)
	c.RequestTimeout = getEnvDuration("BIZDIR_REQUEST_TIMEOUT", c.RequestTimeout)
	c.Storage.Path = getEnv("BIZDIR_STORAGE_PATH", c.Storage.Path)
	c.Storage.KeyFile = getEnv("BIZDIR_STORAGE_KEY_FILE", c.Storage.KeyFile)
	c.Logging.Level = getEnv("BIZDIR_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("BIZDIR_LOG_FORMAT", c.Logging.Format)
}

func (c *Client) Validate() error {
	var missing []string
	if c.APIBaseURL == "" {
		missing = append(missing, "api_base_url")
	}
	if c.RelayURL == "" {
		missing = append(missing, "relay_url")
	}
	if c.Storage.Path == "" {
		missing = append(missing, "storage.path")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing config fields: %v", missing)
	}
	return nil
}

func SaveClient(cfg *Client, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
