// Package config loads daemon configuration from file, environment and
// command line flags using viper, layered in that order of increasing
// precedence.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every tunable of the daemon.
type Config struct {
	NodeName       string `mapstructure:"node_name"`
	DataDir        string `mapstructure:"data_dir"`
	HTTPAddr       string `mapstructure:"http_addr"`
	LogLevel       string `mapstructure:"log_level"`
	LogJSON        bool   `mapstructure:"log_json"`

	PostgresDSN string `mapstructure:"postgres_dsn"`

	ContainerdSocket string `mapstructure:"containerd_socket"`
	ContainerdNS     string `mapstructure:"containerd_namespace"`

	ReconcileInterval string `mapstructure:"reconcile_interval"`
	HeartbeatInterval string `mapstructure:"heartbeat_interval"`
	MetricsInterval   string `mapstructure:"metrics_interval"`
	MetricsRetention  string `mapstructure:"metrics_retention"`

	EncryptionKey string `mapstructure:"encryption_key"`

	VmDiskDir string `mapstructure:"vm_disk_dir"`
}

// Defaults returns the baseline configuration before file/env/flag
// overrides are layered on.
func Defaults() Config {
	return Config{
		NodeName:          "localhost",
		DataDir:           "/var/lib/fleetd",
		HTTPAddr:          ":8585",
		LogLevel:          "info",
		LogJSON:           false,
		PostgresDSN:       "",
		ContainerdSocket:  "/run/containerd/containerd.sock",
		ContainerdNS:      "fleetd",
		ReconcileInterval: "10s",
		HeartbeatInterval: "30s",
		MetricsInterval:   "15s",
		MetricsRetention:  "168h",
		VmDiskDir:         "/var/lib/fleetd/vms",
	}
}

// Load builds a viper instance from the optional config file path, the
// FLEETD_ environment prefix and the given flag set, and decodes it into
// a Config.
func Load(configFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()

	def := Defaults()
	v.SetDefault("node_name", def.NodeName)
	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("http_addr", def.HTTPAddr)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_json", def.LogJSON)
	v.SetDefault("postgres_dsn", def.PostgresDSN)
	v.SetDefault("containerd_socket", def.ContainerdSocket)
	v.SetDefault("containerd_namespace", def.ContainerdNS)
	v.SetDefault("reconcile_interval", def.ReconcileInterval)
	v.SetDefault("heartbeat_interval", def.HeartbeatInterval)
	v.SetDefault("metrics_interval", def.MetricsInterval)
	v.SetDefault("metrics_retention", def.MetricsRetention)
	v.SetDefault("vm_disk_dir", def.VmDiskDir)

	v.SetEnvPrefix("FLEETD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("binding flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}
