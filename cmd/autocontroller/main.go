// autocontroller drives distributed browser-based crawls: an HTTP API
// creates and manages automations, a manager reconciles each automation's
// browser population every tick, and tab drivers walk their frontiers.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/webrecorder/autocontroller/internal/api"
	"github.com/webrecorder/autocontroller/internal/config"
	"github.com/webrecorder/autocontroller/internal/devshepherd"
	"github.com/webrecorder/autocontroller/internal/eventlog"
	"github.com/webrecorder/autocontroller/internal/manager"
	"github.com/webrecorder/autocontroller/internal/replay"
	"github.com/webrecorder/autocontroller/internal/runner"
	"github.com/webrecorder/autocontroller/internal/shepherd"
	"github.com/webrecorder/autocontroller/internal/store"
)

var cfg = config.DefaultConfig()
var configPath string

var rootCmd = &cobra.Command{
	Use:     "autocontroller",
	Short:   "Distributed browser-driven crawl orchestrator",
	Version: config.Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(devshepherdCmd)

	serveCmd.Flags().StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address")
	serveCmd.Flags().StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP API listen address")
	serveCmd.Flags().StringVar(&cfg.ShepherdBaseURL, "shepherd-url", cfg.ShepherdBaseURL, "Browser-provisioning service base URL")
	serveCmd.Flags().StringVar(&cfg.WarcserverBaseURL, "warcserver-url", cfg.WarcserverBaseURL, "Recording proxy / WARC server base URL")
	serveCmd.Flags().DurationVar(&cfg.TickInterval, "tick-interval", cfg.TickInterval, "Manager tick interval")
	serveCmd.Flags().DurationVar(&cfg.ProvisionPollInterval, "provision-poll-interval", cfg.ProvisionPollInterval, "Poll interval while waiting for a provisioned browser to come up")
	serveCmd.Flags().IntVar(&cfg.BrowserDebugPort, "browser-debug-port", cfg.BrowserDebugPort, "CDP debug port exposed by provisioned browsers")
	serveCmd.Flags().StringVar(&cfg.AdminToken, "admin-token", cfg.AdminToken, "Admin token required for admin-only API routes")
	serveCmd.Flags().StringVar(&eventLogDir, "event-log-dir", "./events", "Directory for per-automation JSONL crawl event logs")

	devshepherdCmd.Flags().IntVar(&devshepherdPort, "port", 9020, "HTTP port for the devshepherd server")
	devshepherdCmd.Flags().IntVar(&devshepherdBasePort, "chrome-base-port", 19200, "First CDP debug port assigned to a launched Chrome instance")
}

var eventLogDir string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the manager tick loop",
	RunE:  runServe,
}

var (
	devshepherdPort     int
	devshepherdBasePort int
)

var devshepherdCmd = &cobra.Command{
	Use:   "devshepherd",
	Short: "Run a local stand-in browser-provisioning service backed by real Chrome processes",
	RunE:  runDevshepherd,
}

func runServe(cmd *cobra.Command, args []string) error {
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	db := store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer db.Close()

	shep := shepherd.New(cfg.ShepherdBaseURL, cfg.BrowserDebugPort, cfg.HTTPTimeout, cfg.ProvisionPollInterval)
	warc := replay.New(cfg.WarcserverBaseURL, cfg.HTTPTimeout)

	if err := os.MkdirAll(eventLogDir, 0o755); err != nil {
		return fmt.Errorf("create event log directory: %w", err)
	}
	elog := eventlog.NewManager(eventLogDir)
	defer elog.Close()

	mgr := manager.New(db, cfg.TickInterval, func(autoID string) *runner.Runner {
		return runner.New(db, shep, warc, elog, autoID)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("autocontroller: shutdown signal received")
		cancel()
	}()

	if err := mgr.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap manager: %w", err)
	}
	go mgr.Run(ctx)

	apiSrv := api.New(db, warc, cfg.AdminToken)
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: apiSrv.Handler()}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("autocontroller: listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	shutdownErr := httpSrv.Shutdown(shutdownCtx)

	if err := shep.DeleteAll(); err != nil {
		log.Printf("autocontroller: delete_all on shepherd during shutdown: %v", err)
	}

	return shutdownErr
}

func runDevshepherd(cmd *cobra.Command, args []string) error {
	srv := devshepherd.NewServer(devshepherdBasePort)
	httpSrv := &http.Server{Addr: fmt.Sprintf(":%d", devshepherdPort), Handler: srv.Handler()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("devshepherd: shutdown signal received")
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("devshepherd: listening on :%d, launching Chrome from port %d", devshepherdPort, devshepherdBasePort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
