package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"google.golang.org/api/option"

	"github.com/draftkeeper/draftkeeper/internal/api"
	"github.com/draftkeeper/draftkeeper/internal/auth"
	"github.com/draftkeeper/draftkeeper/internal/backup"
	"github.com/draftkeeper/draftkeeper/internal/config"
	"github.com/draftkeeper/draftkeeper/internal/db"
	"github.com/draftkeeper/draftkeeper/internal/ledger"
	"github.com/draftkeeper/draftkeeper/internal/logger"
	"github.com/draftkeeper/draftkeeper/internal/model"
	"github.com/draftkeeper/draftkeeper/internal/provider"
	"github.com/draftkeeper/draftkeeper/internal/recovery"
	"github.com/draftkeeper/draftkeeper/internal/syncer"
	"github.com/draftkeeper/draftkeeper/internal/watch"
)

func main() {
	// Missing .env is fine in production, env comes from the environment.
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	if err := config.LoadConfig(configPath); err != nil {
		bootLogger := logger.New("info")
		bootLogger.Fatal().Err(err).Msg("Failed to load config")
	}
	cfg := config.AppConfig

	l := logger.New(cfg.Logging.Level)
	config.SetLogger(l)
	db.SetLogger(l)
	ledger.SetLogger(l)
	backup.SetLogger(l)
	syncer.SetLogger(l)
	watch.SetLogger(l)
	recovery.SetLogger(l)
	auth.SetLogger(l)
	api.SetLogger(l)

	database := db.NewSQLite(cfg.Database.Path)
	if err := database.InitDB(); err != nil {
		l.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer database.Close()

	draftLedger := ledger.NewSQLLedger(database)

	store := backup.NewS3Store(
		os.Getenv("S3_ACCESS_KEY_ID"),
		os.Getenv("S3_SECRET_ACCESS_KEY"),
		cfg.Backup.Region,
		cfg.Backup.Endpoint,
		cfg.Backup.Bucket,
		cfg.Backup.Compress,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var driveOpts []option.ClientOption
	if cfg.Provider.CredentialsFile != "" {
		driveOpts = append(driveOpts, option.WithCredentialsFile(cfg.Provider.CredentialsFile))
	}
	docProvider, err := provider.NewDriveProvider(ctx, driveOpts...)
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to initialize document provider")
	}

	var authProvider auth.AuthProvider
	if clerkKey := os.Getenv("CLERK_API"); clerkKey != "" {
		authProvider = auth.NewClerkAuthProvider(clerkKey)
	} else {
		l.Warn().Msg("CLERK_API not set, trusting identity headers")
		authProvider = auth.NewStaticAuthProvider()
	}

	executor := syncer.NewExecutor(draftLedger, store, docProvider, cfg.Backup.PathPrefix, cfg.Sync.CallTimeout())

	defaultFormat := model.ExportFormat(cfg.Provider.DefaultFormat)
	debouncer := syncer.NewDebouncer(cfg.Sync.DebounceWindow(), func(ctx context.Context, draftID model.DraftID) error {
		_, err := executor.Sync(ctx, draftID, defaultFormat)
		return err
	})
	defer debouncer.Stop()

	callbackURL := cfg.Server.PublicURL + "/notifications/provider"
	watches := watch.NewManager(
		docProvider,
		draftLedger,
		callbackURL,
		cfg.Sync.WatchTTL(),
		cfg.Sync.RenewLead(),
		cfg.Sync.RenewCheck(),
		cfg.Sync.CallTimeout(),
	)
	go watches.RenewLoop(ctx)

	orchestrator := recovery.NewOrchestrator(draftLedger, store, docProvider, watches, cfg.Sync.CallTimeout())

	server := api.NewServer(api.ServerOptions{
		Ledger:        draftLedger,
		Store:         store,
		Provider:      docProvider,
		Executor:      executor,
		Debouncer:     debouncer,
		Recovery:      orchestrator,
		Watches:       watches,
		Auth:          authProvider,
		TemplateRef:   cfg.Provider.TemplateRef,
		DefaultFormat: defaultFormat,
		SignedURLTTL:  cfg.Backup.SignedURLTTL(),
	})

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Routes(),
	}

	go func() {
		l.Info().Str("addr", addr).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	l.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("Server shutdown failed")
	}
}
