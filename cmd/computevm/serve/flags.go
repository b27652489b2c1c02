// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serve

import (
	"github.com/spf13/pflag"

	"github.com/luxfi/computevm/vms/computevm/config"
)

const (
	ConfigFileKey      = "config-file"
	HTTPHostKey        = "http-host"
	HTTPPortKey        = "http-port"
	DataDirKey         = "data-dir"
	GenesisFileKey     = "genesis-file"
	ChainNameKey       = "chain-name"
	NATSURLKey         = "nats-url"
	NATSSubjectKey     = "nats-subject"
	RemainderPolicyKey = "remainder-policy"
)

func AddFlags(flags *pflag.FlagSet) {
	defaults := DefaultConfig()
	flags.String(ConfigFileKey, "", "YAML file to read the node configuration from")
	flags.String(HTTPHostKey, defaults.HTTPHost, "Address of the HTTP server")
	flags.Uint16(HTTPPortKey, defaults.HTTPPort, "Port of the HTTP server")
	flags.String(DataDirKey, defaults.DataDir, "Directory of the database. The chain is kept in memory if empty")
	flags.String(GenesisFileKey, defaults.GenesisFile, "JSON file with the genesis allocations")
	flags.String(ChainNameKey, defaults.ChainName, "Alias the chain's endpoints are served under")
	flags.String(NATSURLKey, defaults.NATS.URL, "NATS server to publish events to. Events are dropped if empty")
	flags.String(NATSSubjectKey, defaults.NATS.Subject, "Subject prefix of published events")
	flags.String(RemainderPolicyKey, string(defaults.VM.RemainderPolicy), "Recipient of the indivisible reward remainder: creator, first-winner or burn")
}

// ParseFlags loads the config file named by the flags, then applies every
// flag that was set explicitly.
func ParseFlags(flags *pflag.FlagSet, args []string) (*Config, error) {
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	path, err := flags.GetString(ConfigFileKey)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	stringFlags := map[string]*string{
		HTTPHostKey:    &cfg.HTTPHost,
		DataDirKey:     &cfg.DataDir,
		GenesisFileKey: &cfg.GenesisFile,
		ChainNameKey:   &cfg.ChainName,
		NATSURLKey:     &cfg.NATS.URL,
		NATSSubjectKey: &cfg.NATS.Subject,
	}
	for key, dst := range stringFlags {
		if !flags.Changed(key) {
			continue
		}
		if *dst, err = flags.GetString(key); err != nil {
			return nil, err
		}
	}

	if flags.Changed(HTTPPortKey) {
		if cfg.HTTPPort, err = flags.GetUint16(HTTPPortKey); err != nil {
			return nil, err
		}
	}
	if flags.Changed(RemainderPolicyKey) {
		policy, err := flags.GetString(RemainderPolicyKey)
		if err != nil {
			return nil, err
		}
		cfg.VM.RemainderPolicy = config.RemainderPolicy(policy)
	}

	return &cfg, cfg.Validate()
}
