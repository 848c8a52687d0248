package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		def := DefaultDaemonConfig()
		if cfg.GlobalSocket != def.GlobalSocket {
			t.Errorf("expected global socket %s, got %s", def.GlobalSocket, cfg.GlobalSocket)
		}
		if cfg.HealthPort != 50061 {
			t.Errorf("expected health port 50061, got %d", cfg.HealthPort)
		}
		if cfg.ClientQueueDepth != 128 {
			t.Errorf("expected client_queue_depth 128, got %d", cfg.ClientQueueDepth)
		}
		if cfg.MaxMessageSize != 4*1024*1024 {
			t.Errorf("expected max_message_size 4MiB, got %d", cfg.MaxMessageSize)
		}
		if cfg.DBURL != "sqlite://./data/tracenotify.db" {
			t.Errorf("expected default sqlite db_url, got %s", cfg.DBURL)
		}
	})

	t.Run("environment override", func(t *testing.T) {
		t.Setenv("TN_DAEMON_HEALTH_PORT", "9999")
		t.Setenv("TN_DAEMON_CONTROL_SOCKET", "/tmp/ctl.sock")

		cfg, err := LoadConfig("")
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.HealthPort != 9999 {
			t.Errorf("expected port 9999, got %d", cfg.HealthPort)
		}
		if cfg.ControlSocket != "/tmp/ctl.sock" {
			t.Errorf("expected control socket /tmp/ctl.sock, got %s", cfg.ControlSocket)
		}
	})

	t.Run("environment overrides file", func(t *testing.T) {
		t.Setenv("TN_DAEMON_CLIENT_QUEUE_DEPTH", "8")
		path := writeConfig(t, "daemon:\n  client_queue_depth: 64\n  filter_cache_size: 16\n")

		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig failed: %v", err)
		}
		if cfg.ClientQueueDepth != 8 {
			t.Errorf("expected env value 8, got %d", cfg.ClientQueueDepth)
		}
		if cfg.FilterCacheSize != 16 {
			t.Errorf("expected file value 16, got %d", cfg.FilterCacheSize)
		}
	})

	t.Run("password in config file rejected", func(t *testing.T) {
		path := writeConfig(t, "daemon:\n  db_url: postgres://tn@db/tn\n  db_password: hunter2\n")

		_, err := LoadConfig(path)
		if err == nil {
			t.Fatal("expected error for password in config file")
		}
		if !strings.Contains(err.Error(), "TN_DB_PASSWORD") {
			t.Errorf("error should name TN_DB_PASSWORD, got %v", err)
		}
	})

	t.Run("missing config file", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Error("expected error for missing config file")
		}
	})
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*DaemonConfig)
	}{
		{name: "no notification socket", mutate: func(c *DaemonConfig) { c.GlobalSocket, c.UserSocket = "", "" }},
		{name: "no control socket", mutate: func(c *DaemonConfig) { c.ControlSocket = "" }},
		{name: "port out of range", mutate: func(c *DaemonConfig) { c.HealthPort = 70000 }},
		{name: "zero queue depth", mutate: func(c *DaemonConfig) { c.ClientQueueDepth = 0 }},
		{name: "tiny message size", mutate: func(c *DaemonConfig) { c.MaxMessageSize = 8 }},
		{name: "zero cache", mutate: func(c *DaemonConfig) { c.FilterCacheSize = 0 }},
		{name: "no db", mutate: func(c *DaemonConfig) { c.DBURL = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultDaemonConfig()
			tt.mutate(cfg)
			if err := validateConfig(cfg); err == nil {
				t.Errorf("validateConfig() error = nil, want failure")
			}
		})
	}

	if err := validateConfig(DefaultDaemonConfig()); err != nil {
		t.Errorf("validateConfig(defaults) error = %v, want nil", err)
	}
}

func TestResolveDBURL(t *testing.T) {
	t.Setenv("TN_DB_PASSWORD", "s3cret")

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "sqlite untouched", in: "sqlite://./data/tn.db", want: "sqlite://./data/tn.db"},
		{name: "postgres gets password", in: "postgres://tn@db:5432/tn?sslmode=disable", want: "postgres://tn:s3cret@db:5432/tn?sslmode=disable"},
		{name: "postgres without user", in: "postgres://db/tn", want: "postgres://db/tn"},
		{name: "inline password rejected", in: "postgres://tn:pw@db/tn", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveDBURL(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveDBURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ResolveDBURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
