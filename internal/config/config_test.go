package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
rpc:
  - url: wss://eth.example.org/ws
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Output != "mevshield-findings.jsonl" {
		t.Errorf("output = %q", cfg.Output)
	}
	if cfg.Metrics != ":2112" {
		t.Errorf("metrics = %q", cfg.Metrics)
	}
	want := []string{"phishing", "mev", "multisig", "approval", "twofactor"}
	if !reflect.DeepEqual(cfg.Detectors, want) {
		t.Errorf("detectors = %v, want %v", cfg.Detectors, want)
	}
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
rpc:
  - url: wss://eth.example.org/ws
    api_key: secret
output: findings.jsonl
metrics: ":9100"
detectors:
  - mev
mev:
  routers:
    - "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"
log:
  level: debug
  format: console
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if len(cfg.RPC) != 1 || cfg.RPC[0].APIKey != "secret" {
		t.Errorf("rpc = %+v", cfg.RPC)
	}
	if cfg.Output != "findings.jsonl" || cfg.Metrics != ":9100" {
		t.Errorf("output/metrics = %q/%q", cfg.Output, cfg.Metrics)
	}
	if !reflect.DeepEqual(cfg.Detectors, []string{"mev"}) {
		t.Errorf("detectors = %v", cfg.Detectors)
	}
	if len(cfg.MEV.Routers) != 1 {
		t.Errorf("routers = %v", cfg.MEV.Routers)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "console" {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, `
rpc:
  - url: wss://eth.example.org/ws
log:
  level: info
`)
	t.Setenv("MEVSHIELD_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q, want env override", cfg.Log.Level)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{RPC: []RPCConfig{{URL: "wss://eth.example.org/ws"}}}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"Valid", func(c *Config) {}, false},
		{"NoRPC", func(c *Config) { c.RPC = nil }, true},
		{"EmptyURL", func(c *Config) { c.RPC = []RPCConfig{{URL: ""}} }, true},
		{"BadRouter", func(c *Config) { c.MEV.Routers = []string{"not-an-address"} }, true},
		{"GoodRouter", func(c *Config) {
			c.MEV.Routers = []string{"0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"}
		}, false},
		{"BadKnownAddress", func(c *Config) { c.Phishing.KnownAddresses = []string{"0x123"} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := Validate(cfg); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAddresses(t *testing.T) {
	got := Addresses([]string{"0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"})
	if len(got) != 1 || got[0].Hex() != "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D" {
		t.Errorf("addresses = %v", got)
	}
}

func TestBuildRPCURL(t *testing.T) {
	tests := []struct {
		name string
		base string
		key  string
		want string
	}{
		{"NoKey", "wss://eth.example.org/ws", "", "wss://eth.example.org/ws"},
		{"PathKey", "wss://mainnet.infura.io/ws/v3", "abc123", "wss://mainnet.infura.io/ws/v3/abc123"},
		{"TrailingSlash", "wss://mainnet.infura.io/ws/v3/", "abc123", "wss://mainnet.infura.io/ws/v3/abc123"},
		{"QueryKey", "wss://eth.example.org/ws", "?token=abc", "wss://eth.example.org/ws?token=abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildRPCURL(tt.base, tt.key); got != tt.want {
				t.Errorf("BuildRPCURL(%q, %q) = %q, want %q", tt.base, tt.key, got, tt.want)
			}
		})
	}
}
