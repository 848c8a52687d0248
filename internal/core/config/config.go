// Package config provides configuration management for the tracenotify daemon.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// DaemonConfig holds configuration for the notification daemon.
type DaemonConfig struct {
	GlobalSocket     string
	UserSocket       string
	ControlSocket    string
	HealthHost       string
	HealthPort       int
	ClientQueueDepth int
	MaxMessageSize   int
	FilterCacheSize  int
	DataDir          string
	DBURL            string
}

const (
	globalRunDir = "/var/run/tracenotify"
	userRunDir   = ".tracenotify"

	notificationSocketName = "notification.sock"
	controlSocketName      = "control.sock"
)

// RunDir returns the directory holding the daemon's sockets: the global
// directory for root, the home-relative one otherwise.
func RunDir() string {
	if os.Geteuid() == 0 {
		return globalRunDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), userRunDir)
	}
	return filepath.Join(home, userRunDir)
}

// UserSocketPath returns the per-user notification socket path.
func UserSocketPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), userRunDir, notificationSocketName)
	}
	return filepath.Join(home, userRunDir, notificationSocketName)
}

// DefaultDaemonConfig returns configuration with default values.
func DefaultDaemonConfig() *DaemonConfig {
	return &DaemonConfig{
		GlobalSocket:     filepath.Join(globalRunDir, notificationSocketName),
		UserSocket:       UserSocketPath(),
		ControlSocket:    filepath.Join(RunDir(), controlSocketName),
		HealthHost:       "127.0.0.1",
		HealthPort:       50061,
		ClientQueueDepth: 128,
		MaxMessageSize:   4 * 1024 * 1024,
		FilterCacheSize:  1024,
		DataDir:          "./data",
		DBURL:            "sqlite://./data/tracenotify.db",
	}
}

// NotificationSocket returns the socket the daemon listens on: the global
// socket for root, the user socket otherwise.
func (c *DaemonConfig) NotificationSocket() string {
	if os.Geteuid() == 0 {
		return c.GlobalSocket
	}
	return c.UserSocket
}

// DBPassword returns the database password from TN_DB_PASSWORD.
func DBPassword() string {
	return strings.TrimSpace(os.Getenv("TN_DB_PASSWORD"))
}

// ResolveDBURL injects TN_DB_PASSWORD into a postgres URL that carries a
// user but no password. Other URLs are returned unchanged.
func ResolveDBURL(dbURL string) (string, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return "", fmt.Errorf("invalid database URL: %w", err)
	}
	if u.Scheme != "postgres" || u.User == nil {
		return dbURL, nil
	}
	if _, set := u.User.Password(); set {
		return "", fmt.Errorf("database password not allowed in db_url (use TN_DB_PASSWORD environment variable)")
	}
	if pw := DBPassword(); pw != "" {
		u.User = url.UserPassword(u.User.Username(), pw)
	}
	return u.String(), nil
}
