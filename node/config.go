package node

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the node configuration, loaded from YAML with flag overrides
// applied by the CLI.
type Config struct {
	Network     string   `yaml:"network"`
	DataDir     string   `yaml:"data_dir"`
	BindAddr    string   `yaml:"bind_addr"`
	MetricsAddr string   `yaml:"metrics_addr"`
	LogLevel    string   `yaml:"log_level"`
	Peers       []string `yaml:"peers"`
	MaxPeers    int      `yaml:"max_peers"`
	TxPoolSize  int      `yaml:"tx_pool_size"`
}

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

var allowedNetworks = map[string]struct{}{
	"mainnet": {},
	"testnet": {},
	"regtest": {},
}

// DefaultDataDir places the store under the user's home directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".metaverse"
	}
	return filepath.Join(home, ".metaverse")
}

// DefaultConfig returns a runnable mainnet configuration.
func DefaultConfig() Config {
	return Config{
		Network:     "mainnet",
		DataDir:     DefaultDataDir(),
		BindAddr:    "0.0.0.0:5251",
		MetricsAddr: "",
		LogLevel:    "info",
		Peers:       nil,
		MaxPeers:    128,
		TxPoolSize:  4096,
	}
}

// LoadConfig reads a YAML config file over the defaults. A missing path
// yields the defaults untouched.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Peers = NormalizePeers(cfg.Peers...)
	return cfg, nil
}

// NormalizePeers splits comma-joined peer tokens and deduplicates.
func NormalizePeers(raw ...string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, token := range raw {
		for _, p := range strings.Split(token, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// ValidateConfig rejects an unusable configuration before anything opens.
func ValidateConfig(cfg Config) error {
	network := strings.ToLower(strings.TrimSpace(cfg.Network))
	if _, ok := allowedNetworks[network]; !ok {
		return fmt.Errorf("unknown network %q", cfg.Network)
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	if err := validateAddr(cfg.BindAddr); err != nil {
		return fmt.Errorf("invalid bind_addr: %w", err)
	}
	if cfg.MetricsAddr != "" {
		if err := validateAddr(cfg.MetricsAddr); err != nil {
			return fmt.Errorf("invalid metrics_addr: %w", err)
		}
	}
	for _, peer := range cfg.Peers {
		if err := validateAddr(peer); err != nil {
			return fmt.Errorf("invalid peer %q: %w", peer, err)
		}
	}
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	if cfg.MaxPeers <= 0 || cfg.MaxPeers > 4096 {
		return errors.New("max_peers must be in 1..4096")
	}
	if cfg.TxPoolSize <= 0 {
		return errors.New("tx_pool_size must be > 0")
	}
	return nil
}

func validateAddr(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("empty address")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if host == "" {
		return errors.New("missing host")
	}
	if port == "" {
		return errors.New("missing port")
	}
	return nil
}
