// ABOUTME: Config file handling for the codec server
// ABOUTME: Loads YAML settings with strict decoding and explicit defaults
package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk server configuration
type FileConfig struct {
	Name           string        `yaml:"name"`
	Port           int           `yaml:"port"`
	LogFile        string        `yaml:"log_file"`
	Debug          bool          `yaml:"debug"`
	MDNS           *bool         `yaml:"mdns,omitempty"`
	TUI            bool          `yaml:"tui"`
	MaxConnections int           `yaml:"max_connections"`
	Buffers        BuffersConfig `yaml:"buffers"`
}

// BuffersConfig sizes the soft engine buffer pools
type BuffersConfig struct {
	Inputs    int `yaml:"inputs"`
	Outputs   int `yaml:"outputs"`
	InputSize int `yaml:"input_size"`
}

// defaultConfig is used when no file is given
func defaultConfig() *FileConfig {
	cfg := &FileConfig{}
	cfg.setDefaults()
	return cfg
}

// loadConfig reads a YAML config file, rejecting unknown fields
func loadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg FileConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *FileConfig) setDefaults() {
	if c.Port == 0 {
		c.Port = 8928
	}
	if c.LogFile == "" {
		c.LogFile = "avcodec-server.log"
	}
	if c.MDNS == nil {
		enabled := true
		c.MDNS = &enabled
	}
}

func (c *FileConfig) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid max_connections: %d", c.MaxConnections)
	}
	if c.Buffers.Inputs < 0 || c.Buffers.Outputs < 0 || c.Buffers.InputSize < 0 {
		return fmt.Errorf("buffer counts and sizes must not be negative")
	}
	return nil
}
