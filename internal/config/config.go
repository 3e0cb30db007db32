// Package config loads runner and detector configuration from a YAML file
// with MEVSHIELD_-prefixed environment overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type RPCConfig struct {
	URL    string `koanf:"url"`
	APIKey string `koanf:"api_key"`
}

type PhishingConfig struct {
	// KnownAddresses is the fixed list of known phishing and honeypot
	// contracts.
	KnownAddresses []string `koanf:"known_addresses"`
}

type MEVConfig struct {
	// Routers lists the DEX router addresses whose swaps feed the
	// sandwich correlation window.
	Routers []string `koanf:"routers"`
}

type ApprovalConfig struct {
	// SafeContracts is the allowlist of well-known spenders that never
	// produce an unlimited-approval finding.
	SafeContracts []string `koanf:"safe_contracts"`
	// MaliciousAddresses is the blocklist of known-malicious spenders.
	MaliciousAddresses []string `koanf:"malicious_addresses"`
}

type Config struct {
	RPC       []RPCConfig    `koanf:"rpc"`
	Output    string         `koanf:"output"`
	Metrics   string         `koanf:"metrics"`
	Detectors []string       `koanf:"detectors"`
	Phishing  PhishingConfig `koanf:"phishing"`
	MEV       MEVConfig      `koanf:"mev"`
	Approval  ApprovalConfig `koanf:"approval"`

	Log struct {
		Level  string `koanf:"level"`
		Format string `koanf:"format"`
	} `koanf:"log"`
}

// Load reads the config file and applies MEVSHIELD_ environment overrides
// (MEVSHIELD_LOG_LEVEL=debug maps to log.level).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("config load error: %w", err)
	}

	envProvider := env.Provider("MEVSHIELD_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "MEVSHIELD_")), "_", ".", -1)
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("env override error: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config decode error: %w", err)
	}

	if cfg.Output == "" {
		cfg.Output = "mevshield-findings.jsonl"
	}
	if cfg.Metrics == "" {
		cfg.Metrics = ":2112"
	}
	if len(cfg.Detectors) == 0 {
		cfg.Detectors = []string{"phishing", "mev", "multisig", "approval", "twofactor"}
	}
	return &cfg, nil
}

// Validate fails fast on configuration the runner cannot start with.
func Validate(cfg *Config) error {
	if len(cfg.RPC) == 0 {
		return fmt.Errorf("rpc list required in config")
	}
	hasValidRPC := false
	for _, r := range cfg.RPC {
		if r.URL != "" {
			hasValidRPC = true
			break
		}
	}
	if !hasValidRPC {
		return fmt.Errorf("at least one valid RPC URL is required")
	}

	for _, group := range [][]string{
		cfg.Phishing.KnownAddresses,
		cfg.MEV.Routers,
		cfg.Approval.SafeContracts,
		cfg.Approval.MaliciousAddresses,
	} {
		for _, a := range group {
			if !common.IsHexAddress(a) {
				return fmt.Errorf("invalid address in config: %s", a)
			}
		}
	}
	return nil
}

// Addresses converts a validated hex list into address values.
func Addresses(hex []string) []common.Address {
	out := make([]common.Address, 0, len(hex))
	for _, h := range hex {
		out = append(out, common.HexToAddress(h))
	}
	return out
}

// BuildRPCURL appends an API key to a base endpoint the way providers
// expect it.
func BuildRPCURL(base, key string) string {
	if key == "" {
		return base
	}
	if strings.HasPrefix(key, "?") || strings.HasSuffix(base, "/") {
		return base + key
	}
	return base + "/" + key
}
