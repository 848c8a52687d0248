package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence.
func LoadConfig(configPath string) (*DaemonConfig, error) {
	v := viper.New()
	def := DefaultDaemonConfig()

	v.SetDefault("daemon.global_socket", def.GlobalSocket)
	v.SetDefault("daemon.user_socket", def.UserSocket)
	v.SetDefault("daemon.control_socket", def.ControlSocket)
	v.SetDefault("daemon.health_host", def.HealthHost)
	v.SetDefault("daemon.health_port", def.HealthPort)
	v.SetDefault("daemon.client_queue_depth", def.ClientQueueDepth)
	v.SetDefault("daemon.max_message_size", def.MaxMessageSize)
	v.SetDefault("daemon.filter_cache_size", def.FilterCacheSize)
	v.SetDefault("daemon.data_dir", def.DataDir)
	v.SetDefault("daemon.db_url", def.DBURL)

	// Bind environment variables with TN_ prefix
	v.SetEnvPrefix("TN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &DaemonConfig{
		GlobalSocket:     v.GetString("daemon.global_socket"),
		UserSocket:       v.GetString("daemon.user_socket"),
		ControlSocket:    v.GetString("daemon.control_socket"),
		HealthHost:       v.GetString("daemon.health_host"),
		HealthPort:       v.GetInt("daemon.health_port"),
		ClientQueueDepth: v.GetInt("daemon.client_queue_depth"),
		MaxMessageSize:   v.GetInt("daemon.max_message_size"),
		FilterCacheSize:  v.GetInt("daemon.filter_cache_size"),
		DataDir:          v.GetString("daemon.data_dir"),
		DBURL:            v.GetString("daemon.db_url"),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig checks socket paths, port range and positive limits.
func validateConfig(cfg *DaemonConfig) error {
	if cfg.GlobalSocket == "" && cfg.UserSocket == "" {
		return fmt.Errorf("at least one of global_socket and user_socket must be set")
	}
	if cfg.ControlSocket == "" {
		return fmt.Errorf("control_socket must be set")
	}
	if cfg.HealthPort < 0 || cfg.HealthPort > 65535 {
		return fmt.Errorf("health_port must be between 0 and 65535, got %d", cfg.HealthPort)
	}
	if cfg.ClientQueueDepth <= 0 {
		return fmt.Errorf("client_queue_depth must be positive, got %d", cfg.ClientQueueDepth)
	}
	if cfg.MaxMessageSize < 64 {
		return fmt.Errorf("max_message_size must be at least 64, got %d", cfg.MaxMessageSize)
	}
	if cfg.FilterCacheSize <= 0 {
		return fmt.Errorf("filter_cache_size must be positive, got %d", cfg.FilterCacheSize)
	}
	if cfg.DBURL == "" {
		return fmt.Errorf("db_url must be set")
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets (12-factor principle).
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.IsSet("db_password") || v.IsSet("daemon.db_password") {
		return fmt.Errorf("database password not allowed in config files (use TN_DB_PASSWORD environment variable)")
	}
	return nil
}
