// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serve

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/luxfi/computevm/api/server"
	"github.com/luxfi/computevm/vms/computevm"
	"github.com/luxfi/computevm/vms/computevm/config"
)

// Config is the node configuration. It is read from YAML and then overridden
// by any flag set on the command line.
type Config struct {
	HTTPHost        string            `yaml:"http_host"`
	HTTPPort        uint16            `yaml:"http_port"`
	AllowedOrigins  []string          `yaml:"allowed_origins"`
	AllowedHosts    []string          `yaml:"allowed_hosts"`
	ShutdownTimeout time.Duration     `yaml:"shutdown_timeout"`
	HTTP            server.HTTPConfig `yaml:"http"`

	// DataDir holds the database. The chain is kept in memory if empty.
	DataDir     string `yaml:"data_dir"`
	GenesisFile string `yaml:"genesis_file"`
	ChainName   string `yaml:"chain_name"`
	NetworkID   uint32 `yaml:"network_id"`

	NATS NATS `yaml:"nats"`

	VM config.Config `yaml:"vm"`
}

type NATS struct {
	// URL of the NATS server events are published to. Events are dropped if
	// empty.
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

func DefaultConfig() Config {
	return Config{
		HTTPHost:        "127.0.0.1",
		HTTPPort:        9650,
		AllowedOrigins:  []string{"*"},
		ShutdownTimeout: 10 * time.Second,
		HTTP:            server.DefaultHTTPConfig(),
		ChainName:       computevm.Name,
		NATS: NATS{
			Subject: computevm.Name,
		},
		VM: config.DefaultConfig(),
	}
}

// LoadConfig reads the YAML file at path over the defaults. An empty path
// returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: cannot read file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: cannot unmarshal yaml: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("config: shutdown_timeout must be positive, got %s", c.ShutdownTimeout)
	}
	if c.ChainName == "" {
		return fmt.Errorf("config: chain_name is empty")
	}
	return c.VM.Validate()
}

// VMConfigBytes is the VM section in the form the VM parses.
func (c *Config) VMConfigBytes() ([]byte, error) {
	return json.Marshal(c.VM)
}

// GenesisBytes reads the JSON genesis file and encodes it for the VM.
func (c *Config) GenesisBytes() ([]byte, error) {
	if c.GenesisFile == "" {
		return (&computevm.Genesis{}).Bytes()
	}
	data, err := os.ReadFile(c.GenesisFile)
	if err != nil {
		return nil, fmt.Errorf("genesis: cannot read file %q: %w", c.GenesisFile, err)
	}
	var genesis computevm.Genesis
	if err := json.Unmarshal(data, &genesis); err != nil {
		return nil, fmt.Errorf("genesis: cannot unmarshal json: %w", err)
	}
	if err := genesis.Verify(); err != nil {
		return nil, err
	}
	return genesis.Bytes()
}
