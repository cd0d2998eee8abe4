package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/jmcleod/pagelock/api"
	"github.com/jmcleod/pagelock/broadcast"
	"github.com/jmcleod/pagelock/internal/audit"
	"github.com/jmcleod/pagelock/internal/config"
	"github.com/jmcleod/pagelock/lock"
	"github.com/jmcleod/pagelock/storage"
	bboltstorage "github.com/jmcleod/pagelock/storage/bbolt"
	"github.com/jmcleod/pagelock/storage/memory"
	redisstorage "github.com/jmcleod/pagelock/storage/redis"
	sqlitestorage "github.com/jmcleod/pagelock/storage/sqlite"
	"github.com/jmcleod/pagelock/verify"
)

const limiterSweepInterval = 5 * time.Minute

var (
	listen      string
	dataDir     string
	storageKind string
	watchConfig bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the session lock server",
	RunE: func(cmd *cobra.Command, args []string) error {
		loader := config.NewLoader(configPath, config.WithEnvFile(envFile))
		cfg, err := loader.Load()
		if err != nil {
			return err
		}
		defer loader.Close()

		if cmd.Flags().Changed("listen") {
			cfg.Listen = listen
		}
		if cmd.Flags().Changed("data-dir") {
			cfg.DataDir = dataDir
		}
		if cmd.Flags().Changed("storage") {
			cfg.Storage = storageKind
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		logger := cfg.Log.NewLogger(os.Stderr)
		slog.SetDefault(logger)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var rdb *redis.Client
		if cfg.Storage == config.StorageRedis || cfg.Broadcast == config.BroadcastRedis {
			rdb, err = dialRedis(ctx, cfg.RedisURL)
			if err != nil {
				return err
			}
			defer rdb.Close()
		}

		repo, closeRepo, err := openRepository(ctx, cfg, rdb)
		if err != nil {
			return err
		}
		defer closeRepo.Close()

		bus, err := openBus(cfg, rdb, logger)
		if err != nil {
			return err
		}
		defer bus.Close()

		auditOpts := []audit.Option{audit.WithAlertFunc(func(ev audit.AlertEvent) {
			logger.Warn("security alert", "type", ev.Type, "message", ev.Message, "count", ev.Count)
		})}
		var journal *audit.Journal
		if cfg.Audit.JournalSize > 0 {
			journal = audit.NewJournal(repo,
				audit.WithJournalSize(cfg.Audit.JournalSize),
				audit.WithJournalLogger(logger),
			)
			auditOpts = append(auditOpts, audit.WithSink(journal))
		}
		if cfg.Audit.WebhookURL != "" {
			webhook := audit.NewWebhook(cfg.Audit.WebhookURL, cfg.Audit.WebhookAuthHeader,
				audit.WithWebhookLogger(logger),
			)
			defer webhook.Close()
			auditOpts = append(auditOpts, audit.WithSink(webhook))
		}
		auditLog := audit.New(logger, auditOpts...)

		store := lock.NewStore(repo)
		if !cfg.Settings.Empty() {
			if _, err := store.UpdateSettings(ctx, cfg.Settings.Apply); err != nil {
				return fmt.Errorf("applying configured settings: %w", err)
			}
		}

		authority := lock.NewAuthority(store, bus,
			lock.WithQueueSize(cfg.RequestQueue),
			lock.WithLogger(logger),
			lock.WithAudit(auditLog),
		)
		monitor := lock.NewMonitor(authority, store,
			lock.WithInterval(cfg.MonitorInterval.Duration),
			lock.WithMonitorLogger(logger),
		)

		apiOpts := []api.Option{
			api.WithLogger(logger),
			api.WithAudit(auditLog),
			api.WithToken(cfg.Token),
		}
		if journal != nil {
			apiOpts = append(apiOpts, api.WithJournal(journal))
		}
		prefixes, err := cfg.ProxyPrefixes()
		if err != nil {
			return err
		}
		apiOpts = append(apiOpts, api.WithTrustedProxies(prefixes))
		if cfg.WebAuthn.RPID != "" {
			ceremonies, err := verify.NewCeremonies(verify.Config{
				RPID:          cfg.WebAuthn.RPID,
				RPDisplayName: cfg.WebAuthn.RPName,
				RPOrigins:     cfg.WebAuthn.Origins,
			})
			if err != nil {
				return fmt.Errorf("configuring webauthn: %w", err)
			}
			apiOpts = append(apiOpts, api.WithCeremonies(ceremonies))
		}
		a := api.New(authority, store, bus, apiOpts...)

		if watchConfig && configPath != "" {
			loader.OnChange(func(next *config.Config) {
				if next.Settings.Empty() {
					return
				}
				if _, err := store.UpdateSettings(ctx, next.Settings.Apply); err != nil {
					logger.Warn("reloaded settings rejected", "error", err)
					return
				}
				logger.Info("settings reloaded from configuration")
			})
			if err := loader.Watch(); err != nil {
				return err
			}
		}

		authorityDone := make(chan struct{})
		go func() {
			defer close(authorityDone)
			if err := authority.Run(ctx); err != nil {
				logger.Error("session authority exited", "error", err)
			}
		}()
		// Stop the authority before the deferred closes tear down its
		// store, bus and audit sinks.
		defer func() {
			cancel()
			<-authorityDone
		}()
		go monitor.Run(ctx)
		go a.Maintain(ctx, limiterSweepInterval)

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		r.Mount("/api/v1", a.Router())

		// WriteTimeout stays zero so the event stream is not cut off.
		server := &http.Server{
			Addr:              cfg.Listen,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		fmt.Printf("Starting server on %s (storage: %s, broadcast: %s)...\n", cfg.Listen, cfg.Storage, cfg.Broadcast)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVarP(&listen, "listen", "l", "", "Address to listen on (overrides configuration)")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory for persistent data (overrides configuration)")
	serverCmd.Flags().StringVar(&storageKind, "storage", "", "Storage backend: memory, bbolt, sqlite or redis (overrides configuration)")
	serverCmd.Flags().BoolVar(&watchConfig, "watch", true, "Re-apply [settings] when the configuration file changes")
}

func dialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openRepository returns the configured backend. The redis backend shares
// rdb, which the caller closes.
func openRepository(ctx context.Context, cfg *config.Config, rdb *redis.Client) (storage.Repository, io.Closer, error) {
	switch cfg.Storage {
	case config.StorageMemory:
		return memory.NewRepository(), nopCloser{}, nil
	case config.StorageRedis:
		return redisstorage.NewRepository(rdb), nopCloser{}, nil
	case config.StorageBBolt:
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(cfg.DataDir, "pagelock.db"), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open storage: %w", err)
		}
		return repo, repo, nil
	case config.StorageSQLite:
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		repo, err := sqlitestorage.NewRepositoryFromFile(ctx, filepath.Join(cfg.DataDir, "pagelock.sqlite"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open storage: %w", err)
		}
		return repo, repo, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}
}

func openBus(cfg *config.Config, rdb *redis.Client, logger *slog.Logger) (*broadcast.Bus, error) {
	topic := broadcast.WithTopic(cfg.BroadcastTopic)
	if cfg.Broadcast == config.BroadcastRedis {
		return broadcast.NewRedis(rdb, logger, topic)
	}
	return broadcast.NewInMemory(logger, topic), nil
}
