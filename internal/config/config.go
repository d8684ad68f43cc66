package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Scan      ScanConfig      `yaml:"scan"`
	Download  DownloadConfig  `yaml:"download"`
	Importers ImportersConfig `yaml:"importers"`
}

// ServerConfig holds server settings
type ServerConfig struct {
	Listen     string `yaml:"listen"`
	LibraryDir string `yaml:"library_dir"`
	DBPath     string `yaml:"db_path"`
	TempDir    string `yaml:"temp_dir"`
}

// ScanConfig holds library scan settings
type ScanConfig struct {
	Watch     bool `yaml:"watch"`
	OnStartup bool `yaml:"on_startup"`
}

// DownloadConfig holds transfer engine settings
type DownloadConfig struct {
	UserAgent    string `yaml:"user_agent"`
	MaxRedirects int    `yaml:"max_redirects"`
}

// ImportersConfig holds per-importer settings
type ImportersConfig struct {
	// SiteURL is the page template for the title-id importer,
	// e.g. "https://example.com/title/%s".
	SiteURL string `yaml:"site_url"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:     "0.0.0.0:8465",
			LibraryDir: "/var/lib/foilbox/games",
			DBPath:     "",
			TempDir:    "",
		},
		Scan: ScanConfig{
			Watch:     true,
			OnStartup: true,
		},
		Download: DownloadConfig{
			UserAgent:    "foilbox/1.0",
			MaxRedirects: 10,
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"foilbox.yaml",
		"/etc/foilbox/foilbox.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "foilbox", "foilbox.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Validate checks the config for required fields and fills derived defaults.
func (c *Config) Validate() error {
	if c.Server.LibraryDir == "" {
		return fmt.Errorf("server.library_dir must be set")
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen must be set")
	}
	if c.Server.DBPath == "" {
		c.Server.DBPath = filepath.Join(c.Server.LibraryDir, "foilbox.db")
	}
	if c.Server.TempDir == "" {
		c.Server.TempDir = os.TempDir()
	}
	if c.Download.MaxRedirects <= 0 {
		c.Download.MaxRedirects = 10
	}
	if c.Download.UserAgent == "" {
		c.Download.UserAgent = "foilbox/1.0"
	}
	return nil
}
