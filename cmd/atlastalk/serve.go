package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hari-co/AtlasTalk/internal/conversation"
	"github.com/hari-co/AtlasTalk/internal/httpapi"
	"github.com/hari-co/AtlasTalk/internal/provider"
	"github.com/hari-co/AtlasTalk/internal/scenario"
	"github.com/hari-co/AtlasTalk/internal/speech"
	"github.com/hari-co/AtlasTalk/internal/store"
	"github.com/hari-co/AtlasTalk/pkg/config"
	"github.com/hari-co/AtlasTalk/pkg/observability"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	log := slog.Default()

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	registry := provider.NewRegistry(agentConfigs(cfg))
	resolver := provider.NewRateLimitedResolver(registry, cfg.Limits.AgentRPS, cfg.Limits.AgentBurst)

	manager := conversation.NewManager(st, resolver, log)
	router := conversation.NewRouter(st, resolver, log)
	router.Window = cfg.Limits.HistoryWindow
	router.Retention = cfg.Limits.HistoryRetention

	sessions := scenario.NewSessionStore(cfg.Limits.SessionCapacity,
		time.Duration(cfg.Limits.SessionTTLMinutes)*time.Minute)
	defer sessions.Stop()
	scenarios := scenario.NewService(provider.NewResolvedGenerator(resolver), sessions, log)

	var speechClient *speech.Client
	if cfg.Speech.APIKey != "" {
		speechClient = speech.NewClient(speech.Config{
			APIKey:   cfg.Speech.APIKey,
			VoiceID:  cfg.Speech.VoiceID,
			TTSModel: cfg.Speech.TTSModel,
			STTModel: cfg.Speech.STTModel,
		})
	} else {
		log.Warn("ELEVENLABS_API_KEY not set, audio routes disabled")
	}

	observability.InitMetrics()
	checker := observability.NewHealthChecker()
	checker.RegisterCheck(observability.StoreCheck(storePing(st)))

	obsServer := observability.NewServer(cfg.Server.MetricsAddr, checker)
	api := httpapi.New(manager, router, scenarios, speechClient, st, log)
	roleplayCfg := httpapi.RoleplayConfig{
		SessionCapacity:   cfg.Limits.SessionCapacity,
		SessionTTLMinutes: cfg.Limits.SessionTTLMinutes,
	}
	if speechClient != nil {
		settings := speechClient.Settings()
		roleplayCfg.VoiceID = settings.VoiceID
		roleplayCfg.TTSModel = settings.TTSModel
		roleplayCfg.STTModel = settings.STTModel
	}
	api.SetRoleplayConfig(roleplayCfg)

	errChan := make(chan error, 2)
	go func() {
		if err := obsServer.Start(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("observability server: %w", err)
		}
	}()
	go func() {
		if err := api.Start(cfg.Server.Addr); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("api server: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		log.Error("server error", "error", err)
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := api.Shutdown(ctx); err != nil {
		log.Error("api shutdown", "error", err)
	}
	if err := obsServer.Shutdown(ctx); err != nil {
		log.Error("observability shutdown", "error", err)
	}

	log.Info("stopped")
	return nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "mongo":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return store.NewMongoStore(ctx, store.MongoConfig{
			URI:        cfg.Store.Mongo.URI,
			Database:   cfg.Store.Mongo.Database,
			Collection: cfg.Store.Mongo.Collection,
		})
	default:
		return store.NewRedisStore(store.RedisConfig{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
			Prefix:   cfg.Store.Redis.Prefix,
			PoolSize: cfg.Store.Redis.PoolSize,
		})
	}
}

func agentConfigs(cfg *config.Config) map[string]provider.AgentConfig {
	agents := make(map[string]provider.AgentConfig, len(cfg.Agents))
	for name, a := range cfg.Agents {
		agents[name] = provider.AgentConfig{
			Endpoint: a.Endpoint,
			Kind:     provider.Kind(a.Kind),
			Model:    a.Model,
		}
	}
	return agents
}

type pinger interface {
	Ping(ctx context.Context) error
}

func storePing(st store.Store) func(context.Context) error {
	if p, ok := st.(pinger); ok {
		return p.Ping
	}
	return func(context.Context) error { return nil }
}
