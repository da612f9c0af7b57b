package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vintedfav-engine/internal/config"
	"vintedfav-engine/internal/enrich"
	"vintedfav-engine/internal/events"
	"vintedfav-engine/internal/httpapi"
	"vintedfav-engine/internal/scheduler"
	"vintedfav-engine/internal/scrape"
	"vintedfav-engine/internal/session"
	"vintedfav-engine/internal/store"
	"vintedfav-engine/internal/syncer"
	"vintedfav-engine/internal/upstream"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init failed:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(log); err != nil {
		log.Fatal("engine exited", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	dataDir := os.Getenv("VINTEDFAV_DATA_DIR")
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	defaultCfgPath := filepath.Join("config", "config.yml")
	userCfgPath, err := config.EnsureUserConfig(dataDir, defaultCfgPath)
	if err != nil {
		return fmt.Errorf("config bootstrap: %w", err)
	}
	cfg, err := config.Load(userCfgPath)
	if err != nil {
		return fmt.Errorf("config load (%s): %w", userCfgPath, err)
	}

	db, err := store.Open(filepath.Join(dataDir, "vintedfav.db"))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()
	if err := store.Migrate(db.Pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// repositories
	favRepo := store.NewFavoriteRepo(db.Pool)
	cookieRepo := store.NewCookieRepo(db.Pool)
	credRepo := store.NewCredentialRepo(db.Pool)

	// session layer
	sessionStore := session.NewStore(cookieRepo, log)
	tokens := session.NewTokenManager(sessionStore, cfg.Upstream.BaseURL,
		cfg.Upstream.UserAgent, cfg.RequestTimeout(), log)
	vault := session.NewVault(credRepo, log)
	loginAgent := session.NewLoginAgent(cfg.Session.ScriptPath, cfg.LoginTimeout(),
		cfg.Session.AutoRefresh, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if raw := cfg.Session.InitialCookies; raw != "" {
		n := sessionStore.IngestRaw(ctx, raw, "vinted.fr")
		log.Info("initial cookies loaded", zap.Int("count", n))
	}

	// upstream layer
	client := upstream.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.UserAgent,
		cfg.RequestTimeout(), cfg.Upstream.ReqPerSec, sessionStore, tokens, vault, log)
	fetcher := upstream.NewPageFetcher(client, tokens, cfg.Upstream.UserID,
		cfg.Upstream.PageSize, log)
	norm := scrape.NewNormalizer(log)

	hub := events.NewHub()

	pipeline := enrich.New(fetcher, tokens, favRepo, norm,
		cfg.Enrichment.BatchSize, cfg.EnrichmentDelay(), cfg.BatchPause(), log)
	pipeline.OnEnriched(func(externalID string) {
		hub.Publish(events.Make(events.TypeFavoriteEnriched, map[string]string{"externalId": externalID}))
	})

	orch := syncer.New(sessionStore, vault, loginAgent, fetcher, norm, favRepo,
		pipeline, filepath.Join(dataDir, "sync.lock"), log)
	orch.OnSynced(func(res syncer.Result) {
		hub.Publish(events.Make(events.TypeSyncCompleted, res))
	})

	router := httpapi.NewRouter(httpapi.Deps{
		Favorites: favRepo,
		Sync:      orch,
		Enrich:    pipeline,
		Vault:     vault,
		Session:   sessionStore,
		Hub:       hub,
		Log:       log,
	})
	srv := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", cfg.App.Port),
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http api listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return srv.Shutdown(context.Background())
	})

	if cfg.Sync.Enabled {
		g.Go(func() error {
			scheduler.Every(gctx, cfg.SyncInterval(), "sync", cfg.Sync.OnStartup,
				func(tctx context.Context) error {
					_, err := orch.Run(tctx)
					if errors.Is(err, syncer.ErrSyncRunning) {
						return nil
					}
					return err
				}, log)
			return nil
		})
	}

	return g.Wait()
}
