package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sandboxrunner/dbpool/pkg/config"
	"github.com/sandboxrunner/dbpool/pkg/driver/sqlite"
	"github.com/sandboxrunner/dbpool/pkg/pool"
)

var (
	// Global flags
	configFile string
	logLevel   string
	logFormat  string

	// Build info (set by build system)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dbpoolctl",
		Short: "Database connection pool control tool",
		Long: `dbpoolctl operates a dbpool connection pool against a configured
database: it can verify connectivity, and it can serve live pool statistics
over HTTP for monitoring.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&logFormat, "log-format", "f", "", "log format (json, text, console)")

	rootCmd.AddCommand(newPingCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfigAndLogging() (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	logger, err := setupLogging(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}
	log.Logger = logger

	return cfg, nil
}

func buildPool(ctx context.Context, cfg *config.Config) (*pool.Pool, error) {
	connector, err := sqlite.NewConnector(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create connector: %w", err)
	}

	opts := cfg.PoolOptions()
	p, err := pool.NewBuilder().
		MaxSize(opts.MaxSize).
		MinSize(opts.MinSize).
		ConnectTimeout(opts.ConnectTimeout).
		MaxLifetime(opts.MaxLifetime).
		IdleTimeout(opts.IdleTimeout).
		TestOnAcquire(opts.TestOnAcquire).
		Fair(opts.Fair).
		Build(ctx, connector)
	if err != nil {
		return nil, fmt.Errorf("failed to build pool: %w", err)
	}
	return p, nil
}

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Verify database connectivity through the pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigAndLogging()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			p, err := buildPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer p.Close()

			start := time.Now()
			conn, err := p.Acquire(ctx)
			if err != nil {
				return fmt.Errorf("acquire failed: %w", err)
			}
			defer conn.Release()

			if err := conn.Ping(ctx); err != nil {
				conn.ReleaseErr(err)
				return fmt.Errorf("ping failed: %w", err)
			}

			log.Info().
				Str("dsn", cfg.Database.DSN).
				Str("conn_id", conn.ID()).
				Dur("elapsed", time.Since(start)).
				Msg("Database is reachable")
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve pool statistics over HTTP",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigAndLogging()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	p, err := buildPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	router := mux.NewRouter()
	router.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(p.Stat()); err != nil {
			log.Warn().Err(err).Msg("Failed to encode stats")
		}
	}).Methods(http.MethodGet)

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		conn, err := p.Acquire(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		defer conn.Release()

		if err := conn.Ping(r.Context()); err != nil {
			conn.ReleaseErr(err)
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	}).Methods(http.MethodGet)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Stats server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP server shutdown error")
		}
		if err := p.CloseAndWait(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Pool drain timed out")
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Stats server error")
			return err
		}
	}

	log.Info().Msg("Shutdown complete")
	return nil
}

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "dbpoolctl.yaml"
			if len(args) > 0 {
				path = args[0]
			}
			if err := config.DefaultConfig().SaveConfig(path); err != nil {
				return err
			}
			fmt.Printf("Wrote default configuration to %s\n", path)
			return nil
		},
	})

	return configCmd
}

func setupLogging(cfg config.LoggingConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)

	var output *os.File
	if cfg.OutputFile != "" {
		logDir := filepath.Dir(cfg.OutputFile)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return zerolog.Logger{}, fmt.Errorf("failed to create log directory: %w", err)
		}

		file, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
	} else {
		output = os.Stderr
	}

	var logger zerolog.Logger
	switch cfg.Format {
	case "console":
		logger = log.Output(zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339})
	case "text":
		logger = zerolog.New(output).With().Timestamp().Logger()
	case "json":
		fallthrough
	default:
		logger = zerolog.New(output).With().Timestamp().Logger()
	}

	return logger, nil
}
