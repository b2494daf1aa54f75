package internal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgellow/ebo-bff/internal/authgenie"
	"github.com/dgellow/ebo-bff/internal/config"
	"github.com/dgellow/ebo-bff/internal/crypto"
	"github.com/dgellow/ebo-bff/internal/idp"
	"github.com/dgellow/ebo-bff/internal/jwks"
	"github.com/dgellow/ebo-bff/internal/log"
	"github.com/dgellow/ebo-bff/internal/planner"
	"github.com/dgellow/ebo-bff/internal/server"
	"github.com/dgellow/ebo-bff/internal/session"
	"github.com/dgellow/ebo-bff/internal/storage"
	"github.com/dgellow/ebo-bff/internal/telemetry"
)

const shutdownTimeout = 30 * time.Second

// BFF is the complete backend-for-frontend application
type BFF struct {
	config     config.Config
	httpServer *server.HTTPServer
	store      storage.SessionStore
	cleanup    *storage.CleanupManager
	keys       *jwks.Cache
	shutdownFn telemetry.ShutdownFunc
}

// NewBFF builds the application and all its dependencies
func NewBFF(ctx context.Context, cfg config.Config) (*BFF, error) {
	log.LogInfoWithFields("bff", "Building BFF application", map[string]any{
		"baseURL": cfg.Server.BaseURL,
		"storage": cfg.Sessions.Storage,
	})

	baseURL, err := url.Parse(cfg.Server.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	shutdownFn, err := telemetry.Setup(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to setup telemetry: %w", err)
	}

	store, err := setupStorage(ctx, cfg.Sessions)
	if err != nil {
		return nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	keys := jwks.NewCache(cfg.Providers.JWKSCacheTTL)
	providers, err := idp.NewProviders(cfg.Providers, baseURL.String(), keys, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to setup identity providers: %w", err)
	}

	broker, err := authgenie.NewClient(authgenie.Config{
		BaseURL:      cfg.AuthGenie.BaseURL,
		ClientID:     cfg.AuthGenie.ClientID,
		ClientSecret: string(cfg.AuthGenie.ClientSecret),
		Audience:     cfg.AuthGenie.Audience,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create authgenie client: %w", err)
	}

	sessions := session.NewManager(store, broker, session.WithCookieName(cfg.Sessions.CookieName))
	log.LogInfoWithFields("bff", "Session broker configured", map[string]any{
		"token_url": broker.TokenURL(),
		"cookie":    sessions.CookieName(),
	})

	routerConfig := server.RouterConfig{
		BaseURL:        baseURL.String(),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		StaticDir:      cfg.Server.StaticDir,
		Providers:      providers,
		Sessions:       sessions,
		Broker:         broker,
	}

	if cfg.Planner.BaseURL != "" {
		plannerClient, err := planner.NewClient(cfg.Planner.BaseURL, cfg.Planner.Timeout, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create planner client: %w", err)
		}
		routerConfig.Planner = plannerClient
	}

	if cfg.Sessions.ServeToken != "" {
		routerConfig.StoreHandler = storage.NewHandler(store, string(cfg.Sessions.ServeToken))
	}

	return &BFF{
		config:     cfg,
		httpServer: server.NewHTTPServer(server.NewRouter(routerConfig), cfg.Server.Addr),
		store:      store,
		cleanup:    storage.NewCleanupManager(store, cfg.Sessions.CleanupInterval),
		keys:       keys,
		shutdownFn: shutdownFn,
	}, nil
}

// Run starts the application and blocks until a signal or a server error
// triggers a graceful shutdown
func (b *BFF) Run() error {
	log.LogInfoWithFields("bff", "Starting BFF application", map[string]any{
		"addr": b.config.Server.Addr,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b.keys.Start(ctx)
	b.cleanup.Start(ctx)

	errChan := make(chan error, 1)
	go func() {
		if err := b.httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var shutdownReason string
	select {
	case sig := <-sigChan:
		shutdownReason = fmt.Sprintf("signal %v", sig)
		log.LogInfoWithFields("bff", "Received shutdown signal", map[string]any{
			"signal": sig.String(),
		})
	case err := <-errChan:
		shutdownReason = fmt.Sprintf("error: %v", err)
		log.LogErrorWithFields("bff", "Shutting down due to error", map[string]any{
			"error": err.Error(),
		})
	}

	log.LogInfoWithFields("bff", "Starting graceful shutdown", map[string]any{
		"reason":  shutdownReason,
		"timeout": shutdownTimeout.String(),
	})
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	serverErr := b.httpServer.Stop(shutdownCtx)
	if serverErr != nil {
		log.LogErrorWithFields("bff", "HTTP server shutdown error", map[string]any{
			"error": serverErr.Error(),
		})
	}

	b.cleanup.Stop()
	b.keys.Stop()

	if closer, ok := b.store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.LogWarnWithFields("bff", "Failed to close session store", map[string]any{
				"error": err.Error(),
			})
		}
	}

	if err := b.shutdownFn(shutdownCtx); err != nil {
		log.LogWarnWithFields("bff", "Telemetry shutdown error", map[string]any{
			"error": err.Error(),
		})
	}

	log.LogInfoWithFields("bff", "Application shutdown complete", map[string]any{
		"reason": shutdownReason,
	})
	return serverErr
}

// setupStorage creates the session store selected by cfg
func setupStorage(ctx context.Context, cfg config.SessionConfig) (storage.SessionStore, error) {
	switch cfg.Storage {
	case config.SessionStorageFirestore:
		log.LogInfoWithFields("storage", "Using Firestore storage", map[string]any{
			"project":    cfg.GCPProject,
			"database":   cfg.FirestoreDatabase,
			"collection": cfg.FirestoreCollection,
		})
		encryptor, err := crypto.NewEncryptor([]byte(cfg.EncryptionKey))
		if err != nil {
			return nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
		store, err := storage.NewFirestoreStorage(ctx, cfg.GCPProject, cfg.FirestoreDatabase, cfg.FirestoreCollection, encryptor, cfg.TTL)
		if err != nil {
			return nil, fmt.Errorf("failed to create Firestore storage: %w", err)
		}
		return store, nil

	case config.SessionStorageRemote:
		log.LogInfoWithFields("storage", "Using remote session store", map[string]any{
			"url": cfg.StoreURL,
		})
		store, err := storage.NewRemoteStorage(cfg.StoreURL, string(cfg.StoreToken), &http.Client{Timeout: 10 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("failed to create remote storage: %w", err)
		}
		return store, nil

	case config.SessionStorageMemory, "":
		log.LogInfoWithFields("storage", "Using in-memory storage", map[string]any{
			"ttl": cfg.TTL.String(),
		})
		return storage.NewMemoryStorage(cfg.TTL), nil
	}
	return nil, fmt.Errorf("unknown session storage %q", cfg.Storage)
}
