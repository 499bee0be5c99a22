package server

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/vorpalengineering/x402-agent/catalog"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server         ServerConfig   `yaml:"server"`
	FacilitatorURL string         `yaml:"facilitator_url"`
	PublicURL      string         `yaml:"public_url"`
	Discovery      bool           `yaml:"discovery"`
	Log            LogConfig      `yaml:"log"`
	Catalog        catalog.Config `yaml:"catalog"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.FacilitatorURL == "" {
		return errors.New("facilitator_url is required")
	}
	if _, err := url.ParseRequestURI(c.FacilitatorURL); err != nil {
		return fmt.Errorf("invalid facilitator_url: %w", err)
	}
	if len(c.Catalog.Products) == 0 {
		return errors.New("catalog has no products")
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
