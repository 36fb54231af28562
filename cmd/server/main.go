package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"fleet_server/internal/config"
	"fleet_server/internal/domain"
	"fleet_server/internal/infra/db"
	"fleet_server/internal/infra/httpclient"
	applogger "fleet_server/internal/infra/logger"
	"fleet_server/internal/infra/repository"
	httptransport "fleet_server/internal/transport/http"
	"fleet_server/internal/transport/ws"
	"fleet_server/internal/usecase"
)

var (
	envFile string
	cfg     *config.AppConfig
	logger  zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:          "server",
	Short:        "Fleet monitoring server for trading bots and dashboards",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		applogger.Init("info")

		var err error
		if envFile != "" {
			cfg, err = config.Load(envFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		applogger.Init(cfg.Logging.Level)
		logger = applogger.Logger
		logger.Info().Str("level", cfg.Logging.Level).Msg("logger initialized")
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if db.IsMemoryDSN(cfg.Database.DSN) {
			logger.Info().Msg("in-memory store has no migrations")
			return nil
		}
		_, closeDB, err := openDatabase(cmd.Context())
		if err != nil {
			return err
		}
		closeDB()
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load before reading the environment (default .env)")
	rootCmd.AddCommand(migrateCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openDatabase(ctx context.Context) (*gorm.DB, func(), error) {
	logger.Info().Str("dsn", maskDSN(cfg.Database.DSN)).Msg("connecting to database")
	gormDB, err := db.Connect(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("underlying sql db: %w", err)
	}
	closeDB := func() {
		if err := sqlDB.Close(); err != nil {
			logger.Error().Err(err).Msg("close database")
		}
	}
	logger.Info().Msg("database connected successfully")

	if err := db.ApplyMigrations(ctx, gormDB); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}
	logger.Info().Msg("migrations applied successfully")

	return gormDB, closeDB, nil
}

func openRepository(ctx context.Context) (domain.ClientRepository, func(), error) {
	if db.IsMemoryDSN(cfg.Database.DSN) {
		logger.Warn().Msg("using in-memory client store, state is lost on restart")
		return repository.NewMemoryClientRepository(), func() {}, nil
	}

	gormDB, closeDB, err := openDatabase(ctx)
	if err != nil {
		return nil, nil, err
	}
	repo, err := repository.NewGormClientRepository(gormDB)
	if err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("init client repository: %w", err)
	}
	return repo, closeDB, nil
}

func run(ctx context.Context) error {
	repo, closeRepo, err := openRepository(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	var notifier domain.GoalNotifier
	if cfg.Goal.WebhookURL != "" {
		webhook, err := httpclient.NewGoalWebhook(cfg.Goal.WebhookURL)
		if err != nil {
			return fmt.Errorf("init goal webhook: %w", err)
		}
		notifier = webhook
		logger.Info().Msg("goal webhook enabled")
	}

	locks := usecase.NewIdentityLocks()
	registry := usecase.NewRegistry()
	hub := ws.NewHub(applogger.Component("hub"))

	syncService, err := usecase.NewSyncService(repo, registry, hub, locks, notifier, usecase.SyncOptions{
		DefaultTarget: cfg.Goal.DefaultTarget,
		GoalMessage:   cfg.Goal.Message,
		Logger:        applogger.Component("sync"),
	})
	if err != nil {
		return fmt.Errorf("init sync service: %w", err)
	}
	commandService, err := usecase.NewCommandService(repo, registry, hub, locks, applogger.Component("commands"))
	if err != nil {
		return fmt.Errorf("init command service: %w", err)
	}

	reset, err := syncService.ResetConnections(ctx)
	if err != nil {
		return fmt.Errorf("reset connection state: %w", err)
	}
	logger.Info().Int64("clients", reset).Msg("stale connections marked disconnected")

	socketHandler, err := ws.NewHandler(hub, syncService, commandService, ws.Options{
		OutboundQueue: cfg.Transport.OutboundQueue,
		InboundRate:   cfg.Transport.InboundRate,
		InboundBurst:  cfg.Transport.InboundBurst,
	}, applogger.Component("ws"))
	if err != nil {
		return fmt.Errorf("init socket handler: %w", err)
	}

	logger.Info().Msg("all services initialized")

	router := httptransport.New(syncService, commandService, socketHandler, hub)

	logger.Info().Dur("interval", cfg.Scheduler.SweepInterval).Msg("initializing scheduler")
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("scheduler shutdown error")
		}
	}()

	if cfg.Transport.IdleTimeout > 0 {
		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Scheduler.SweepInterval),
			gocron.NewTask(func() {
				if closed := hub.CloseIdle(time.Now(), cfg.Transport.IdleTimeout); closed > 0 {
					logger.Info().Int("closed", closed).Msg("idle connections closed")
				}
			}),
		)
		if err != nil {
			return fmt.Errorf("schedule idle sweep: %w", err)
		}
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(5*time.Minute),
		gocron.NewTask(func() {
			stats := hub.Stats()
			logger.Info().
				Int("bots", stats.Bots).
				Int("dashboards", stats.Dashboards).
				Uint64("dropped", stats.Dropped).
				Int("bound", registry.Len()).
				Msg("connection stats")
		}),
	)
	if err != nil {
		return fmt.Errorf("schedule stats job: %w", err)
	}
	scheduler.Start()
	logger.Info().Msg("scheduler started")

	serverErr := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Server.Port
		logger.Info().Str("addr", addr).Msg("server listening")
		serverErr <- router.App().Listen(addr)
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("fiber server error: %w", err)
		}
	case sig := <-signalCh:
		logger.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := router.App().ShutdownWithContext(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown error")
		}
		logger.Info().Msg("server shutdown complete")
	}

	return nil
}

func maskDSN(dsn string) string {
	// postgres DSNs carry credentials
	if !db.IsPostgresDSN(dsn) {
		return dsn
	}
	if len(dsn) > 20 {
		return dsn[:10] + "***" + dsn[len(dsn)-10:]
	}
	return "***"
}
