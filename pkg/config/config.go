// Package config defines the active memory manager's on-disk configuration
// and merges it with command-line flags, following the flags-then-YAML-merge
// order cmd/warren/main.go uses for its own node configuration (flags take
// precedence, YAML fills in anything a flag left at its zero value).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Config is the full set of tunables for a running amm process.
type Config struct {
	NodeID   string `yaml:"node_id"`
	BindAddr string `yaml:"bind_addr"`
	DataDir  string `yaml:"data_dir"`

	ControlAddr string `yaml:"control_addr"`
	WorkerAddr  string `yaml:"worker_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	TickInterval time.Duration `yaml:"tick_interval"`
	AutoStart    bool          `yaml:"auto_start"`

	// Policies lists the built-in policies to register at startup, in
	// order. An empty list (the zero value, before Default fills it in)
	// means no policies are registered and the manager ticks without
	// producing any suggestions until one is added through the control API.
	Policies []PolicySpec `yaml:"policies"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// PolicySpec names a built-in policy to construct at startup, plus whatever
// keyword options that policy's constructor takes. Options are left as
// strings and parsed by the policy's own builder, the way a class-spec-plus-
// kwargs entry would be interpreted against the named class's constructor.
type PolicySpec struct {
	Name    string            `yaml:"name"`
	Options map[string]string `yaml:"options,omitempty"`
}

// Default returns the configuration a bare `amm run` should start from.
func Default() Config {
	return Config{
		NodeID:       "node-1",
		BindAddr:     "127.0.0.1:7100",
		DataDir:      "./data",
		ControlAddr:  "127.0.0.1:7101",
		WorkerAddr:   "127.0.0.1:7102",
		MetricsAddr:  "127.0.0.1:7103",
		TickInterval: 2 * time.Second,
		AutoStart:    false,
		Policies:     []PolicySpec{{Name: "ReduceReplicas"}},
		LogLevel:     "info",
		LogJSON:      false,
	}
}

// Load reads a YAML config file at path, if it exists, over top of Default.
// A missing file is not an error: callers are expected to run entirely off
// flags in that case.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// BindFlags registers the persistent flags cmd/amm uses to override a
// loaded Config. Call ApplyFlags after cmd.Execute's flag parsing to fold
// the ones the user actually set back into cfg.
func BindFlags(flags *cobra.Command) {
	flags.PersistentFlags().String("config", "", "path to a YAML config file")
	flags.PersistentFlags().String("node-id", "", "node identifier")
	flags.PersistentFlags().String("bind-addr", "", "Raft bind address")
	flags.PersistentFlags().String("data-dir", "", "Raft/bbolt data directory")
	flags.PersistentFlags().String("control-addr", "", "control API listen address")
	flags.PersistentFlags().String("worker-addr", "", "worker RPC listen address")
	flags.PersistentFlags().String("metrics-addr", "", "Prometheus metrics listen address")
	flags.PersistentFlags().Duration("tick-interval", 0, "active memory manager tick interval")
	flags.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	flags.PersistentFlags().Bool("log-json", false, "emit JSON-formatted logs")
}

// ApplyFlags overrides cfg's fields with any flag the user explicitly set.
func ApplyFlags(cfg Config, flags *cobra.Command) Config {
	if v, _ := flags.PersistentFlags().GetString("node-id"); v != "" {
		cfg.NodeID = v
	}
	if v, _ := flags.PersistentFlags().GetString("bind-addr"); v != "" {
		cfg.BindAddr = v
	}
	if v, _ := flags.PersistentFlags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := flags.PersistentFlags().GetString("control-addr"); v != "" {
		cfg.ControlAddr = v
	}
	if v, _ := flags.PersistentFlags().GetString("worker-addr"); v != "" {
		cfg.WorkerAddr = v
	}
	if v, _ := flags.PersistentFlags().GetString("metrics-addr"); v != "" {
		cfg.MetricsAddr = v
	}
	if v, _ := flags.PersistentFlags().GetDuration("tick-interval"); v > 0 {
		cfg.TickInterval = v
	}
	if v, _ := flags.PersistentFlags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := flags.PersistentFlags().GetBool("log-json"); v {
		cfg.LogJSON = true
	}
	return cfg
}
