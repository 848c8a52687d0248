package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/solatis/tracenotify/internal/control"
	"github.com/solatis/tracenotify/internal/core/api"
	"github.com/solatis/tracenotify/internal/core/auth"
	"github.com/solatis/tracenotify/internal/core/config"
	"github.com/solatis/tracenotify/internal/core/db"
	"github.com/solatis/tracenotify/internal/core/server"
	"github.com/solatis/tracenotify/internal/filter"
	"github.com/solatis/tracenotify/internal/notification"
)

const Version = "0.1.0"

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the notification daemon",
	RunE:  runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().String("socket", "", "notification socket path (default depends on uid)")
	daemonCmd.Flags().String("control-socket", "", "control socket path")
	daemonCmd.Flags().String("health-host", "127.0.0.1", "gRPC health endpoint host")
	daemonCmd.Flags().Int("health-port", 50061, "gRPC health endpoint port")
	daemonCmd.Flags().Int("queue-depth", notification.DefaultQueueDepth, "per-client notification queue length")
}

// loadConfig reads the config file and applies the persistent --db-url.
func loadConfig() (*config.DaemonConfig, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dbURL != "" {
		cfg.DBURL = dbURL
	}
	return cfg, nil
}

func openDatabase(cfg *config.DaemonConfig) (*sqlx.DB, error) {
	resolved, err := config.ResolveDBURL(cfg.DBURL)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	database, err := db.Open(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}

// listenUnix binds path, replacing a stale socket left by a previous run.
func listenUnix(ctx context.Context, path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create socket dir: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove stale socket %s: %w", path, err)
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", path, err)
	}
	// Every local user may connect; credentials decide what they see.
	if err := os.Chmod(path, 0o666); err != nil {
		ln.Close()
		return nil, fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	return ln, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("socket") {
		socket, _ := cmd.Flags().GetString("socket")
		cfg.GlobalSocket = socket
		cfg.UserSocket = socket
	}
	if cmd.Flags().Changed("control-socket") {
		cfg.ControlSocket, _ = cmd.Flags().GetString("control-socket")
	}
	if cmd.Flags().Changed("health-host") {
		cfg.HealthHost, _ = cmd.Flags().GetString("health-host")
	}
	if cmd.Flags().Changed("health-port") {
		cfg.HealthPort, _ = cmd.Flags().GetInt("health-port")
	}
	if cmd.Flags().Changed("queue-depth") {
		cfg.ClientQueueDepth, _ = cmd.Flags().GetInt("queue-depth")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.MigrateUp(database); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	queries, err := db.LoadQueries(database)
	if err != nil {
		return fmt.Errorf("failed to load queries: %w", err)
	}

	compiler, err := filter.NewCachingCompiler(filter.Default, uint32(cfg.FilterCacheSize))
	if err != nil {
		return err
	}

	dispatcher := notification.NewDispatcher(notification.DispatcherConfig{
		QueueDepth:     cfg.ClientQueueDepth,
		MaxMessageSize: cfg.MaxMessageSize,
		Credentials:    auth.PeerCredentials,
		Logger:         log.WithField("component", "notification"),
	})

	service, err := api.NewService(api.Config{
		Store:     db.NewTriggerStore(queries),
		Publisher: dispatcher,
		Compiler:  compiler,
		Logger:    log.WithField("component", "api"),
	})
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	defer service.Close()

	if _, err := service.Restore(ctx); err != nil {
		// Triggers that cannot be restored are logged and skipped.
		log.WithError(err).Warn("some persisted triggers were not restored")
	}

	controlServer := control.NewServer(service, control.ServerConfig{
		MaxMessageSize: cfg.MaxMessageSize,
		Credentials:    auth.PeerCredentials,
		Logger:         log.WithField("component", "control"),
	})

	health, err := server.NewGRPCServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create health server: %w", err)
	}

	notifyLn, err := listenUnix(ctx, cfg.NotificationSocket())
	if err != nil {
		return err
	}
	controlLn, err := listenUnix(ctx, cfg.ControlSocket)
	if err != nil {
		notifyLn.Close()
		return err
	}

	log.WithFields(log.Fields{
		"version":             Version,
		"notification_socket": cfg.NotificationSocket(),
		"control_socket":      cfg.ControlSocket,
		"health":              fmt.Sprintf("%s:%d", cfg.HealthHost, cfg.HealthPort),
		"triggers":            service.Triggers(),
	}).Info("starting tracenotify daemon")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Serve(gctx, notifyLn)
	})
	g.Go(func() error {
		return controlServer.Serve(gctx, controlLn)
	})
	g.Go(func() error {
		return health.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return health.Shutdown(shutdownCtx)
	})

	health.SetServing("", true)
	health.SetServing(server.ServiceNotification, true)
	health.SetServing(server.ServiceControl, true)

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
