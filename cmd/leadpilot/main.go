package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/bionixus/leadpilot-sub000/internal/api"
	"github.com/bionixus/leadpilot-sub000/internal/brain"
	"github.com/bionixus/leadpilot-sub000/internal/config"
	"github.com/bionixus/leadpilot-sub000/internal/embedding"
	"github.com/bionixus/leadpilot-sub000/internal/memory"
	"github.com/bionixus/leadpilot-sub000/internal/notify"
	"github.com/bionixus/leadpilot-sub000/internal/orchestrator"
	"github.com/bionixus/leadpilot-sub000/internal/provider"
	"github.com/bionixus/leadpilot-sub000/internal/queue"
	"github.com/bionixus/leadpilot-sub000/internal/ratelimit"
	"github.com/bionixus/leadpilot-sub000/internal/rules"
	pgstore "github.com/bionixus/leadpilot-sub000/internal/store"
	"github.com/bionixus/leadpilot-sub000/internal/tool"
	"github.com/bionixus/leadpilot-sub000/internal/vectorstore"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting LeadPilot agent...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/leadpilot.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	ctx := context.Background()

	// PostgreSQL holds the task queue, so it is not optional.
	pg, err := pgstore.New(cfg.Database.Postgres.DSN, logger)
	if err != nil {
		logger.Fatal("PostgreSQL unavailable", zap.Error(err))
	}
	migrationsDir := cfg.Database.Postgres.MigrationsDir
	if migrationsDir == "" {
		migrationsDir = "migrations"
	}
	if err := pg.Migrate(ctx, migrationsDir); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	// Provider router: global providers from config, then per-org
	// credentials from the store.
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.Config{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
		}
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}
	if orgs, err := pg.ListEnabledOrgs(ctx); err != nil {
		logger.Warn("listing orgs for provider bindings failed", zap.Error(err))
	} else {
		for _, org := range orgs {
			bindOrgProviders(ctx, router, pg, org, logger)
		}
	}

	// Neo4j memory graph, optional.
	var mem *memory.Layered
	graph, err := memory.NewStore(cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, logger)
	if err != nil {
		logger.Warn("Neo4j unavailable, running without memory", zap.Error(err))
	} else {
		var idx *memory.SemanticIndex
		if cfg.Database.Qdrant.Enabled {
			vectors, vErr := vectorstore.NewClient(vectorstore.Config{
				Host: cfg.Database.Qdrant.Host, Port: cfg.Database.Qdrant.Port,
			})
			if vErr != nil {
				logger.Warn("Qdrant unavailable, keyword recall only", zap.Error(vErr))
			} else {
				embedder := embedding.New(embedding.Config{
					Provider:  cfg.Embedding.Provider,
					Endpoint:  cfg.Embedding.Endpoint,
					Model:     cfg.Embedding.Model,
					APIKey:    cfg.Embedding.APIKey,
					Dimension: cfg.Embedding.Dimension,
				})
				idx, vErr = memory.NewSemanticIndex(ctx, embedder, vectors, logger)
				if vErr != nil {
					logger.Warn("semantic index init failed, keyword recall only", zap.Error(vErr))
				}
			}
		}
		mem = memory.NewLayered(graph, idx, logger)
	}

	// Redis rate limiter, optional: a missing Redis means no caps.
	limiter, err := ratelimit.NewLimiter(cfg.Database.Redis.URL, logger)
	if err != nil {
		logger.Warn("Redis unavailable, running without rate limits", zap.Error(err))
		limiter = nil
	}

	// Operator notifications.
	var notifiers []notify.Notifier
	if cfg.Notify.Slack.Enabled && cfg.Notify.Slack.BotToken != "" {
		notifiers = append(notifiers,
			notify.NewSlackNotifier(cfg.Notify.Slack.BotToken, cfg.Notify.Slack.Channel, logger))
	}
	if cfg.Notify.Discord.Enabled && cfg.Notify.Discord.BotToken != "" {
		dn, dErr := notify.NewDiscordNotifier(cfg.Notify.Discord.BotToken, cfg.Notify.Discord.ChannelID, logger)
		if dErr != nil {
			logger.Warn("Discord notifier init failed", zap.Error(dErr))
		} else {
			notifiers = append(notifiers, dn)
		}
	}

	engine := rules.NewEngine(&routerAsker{router: router}, pg, logger)
	decider := brain.New(router, logger)
	messenger := &storeMessenger{store: pg}

	toolFactory := func(orgID string) *tool.Registry {
		reg := tool.NewRegistry()
		tool.RegisterOutreachTools(reg, orgID, tool.Backends{
			Messenger: messenger,
			Leads:     pg,
			Generate: func(ctx context.Context, prompt string) (string, error) {
				resp, err := router.Chat(ctx, orgID, &provider.ChatRequest{
					MaxTokens: 2048,
					Messages:  []provider.Message{{Role: "user", Content: prompt}},
				})
				if err != nil {
					return "", err
				}
				return resp.Content, nil
			},
		})
		tool.RegisterControlTools(reg, nil)
		return reg
	}

	opts := orchestrator.Options{
		Queue:   pg,
		Configs: pg,
		Rules:   pg,
		Engine:  engine,
		Brain:   decider,
		Tools:   toolFactory,
		Audit:   pg,
		Inbox:   pg,
		Backoff: queue.Backoff{
			Kind: queue.BackoffKind(cfg.Orchestrator.BackoffKind),
			Base: cfg.Orchestrator.BackoffBase(),
		},
		Logger:         logger,
		PollInterval:   cfg.Orchestrator.PollInterval(),
		FollowUpAfter:  cfg.Orchestrator.FollowUpAfter(),
		InboxEvery:     cfg.Orchestrator.InboxEvery(),
		RetainTasksFor: cfg.Orchestrator.RetainTasksFor(),
	}
	if mem != nil {
		opts.Recaller = mem
		opts.Learner = mem
	}
	if limiter != nil {
		opts.Limiter = limiter
	}
	if len(notifiers) > 0 {
		opts.Notifier = notify.NewMulti(logger, notifiers...)
	}

	orch := orchestrator.New(opts)
	manager := orchestrator.NewManager(orch, logger)
	if err := manager.Resume(ctx); err != nil {
		logger.Warn("resume agents failed", zap.Error(err))
	}

	handler := api.NewHandler(pg, manager, pg, pg, pg, pg, logger)

	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("LeadPilot listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down LeadPilot...")
	manager.Shutdown()
	srv.Shutdown(ctx)
	if graph != nil {
		graph.Close(ctx)
	}
	if limiter != nil {
		limiter.Close()
	}
	pg.Close()
}

// bindOrgProviders registers an org's stored credentials with the
// router and binds the org to its default one.
func bindOrgProviders(ctx context.Context, router *provider.Router, pg *pgstore.Store, orgID string, logger *zap.Logger) {
	rows, err := pg.ListProviders(ctx, orgID)
	if err != nil {
		logger.Warn("load org providers failed", zap.String("org_id", orgID), zap.Error(err))
		return
	}
	for _, row := range rows {
		provCfg := provider.Config{
			ID: row.ID, Type: row.Type, Name: row.Name,
			Endpoint: row.Endpoint, APIKey: row.APIKey,
		}
		switch row.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", row.ID), zap.String("type", row.Type))
			continue
		}
		if row.IsDefault {
			router.Bind(orgID, row.ID)
		}
	}
}

// routerAsker answers natural-language rule conditions through the
// default provider.
type routerAsker struct {
	router *provider.Router
}

func (a *routerAsker) AskBool(ctx context.Context, prompt string) (string, error) {
	resp, err := a.router.Chat(ctx, "", &provider.ChatRequest{
		MaxTokens: 8,
		Messages:  []provider.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// storeMessenger records outbound messages in the lead's thread. The
// channel transports (SMTP relay, WhatsApp, SMS) sit behind the same
// table via their own delivery workers.
type storeMessenger struct {
	store *pgstore.Store
}

func (m *storeMessenger) Send(ctx context.Context, orgID string, msg *tool.OutboundMessage) (string, error) {
	rec := &pgstore.Message{
		OrgID:     orgID,
		LeadID:    msg.LeadID,
		Direction: "outbound",
		Channel:   msg.Channel,
		Subject:   msg.Subject,
		Body:      msg.Body,
	}
	if err := m.store.RecordMessage(ctx, rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}
