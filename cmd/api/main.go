package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/dealership-ai-platform/cmd/mainconfig"
	"github.com/wolfman30/dealership-ai-platform/internal/api/router"
	"github.com/wolfman30/dealership-ai-platform/internal/app/bootstrap"
	"github.com/wolfman30/dealership-ai-platform/internal/compliance"
	appconfig "github.com/wolfman30/dealership-ai-platform/internal/config"
	"github.com/wolfman30/dealership-ai-platform/internal/conversation"
	"github.com/wolfman30/dealership-ai-platform/internal/events"
	"github.com/wolfman30/dealership-ai-platform/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/dealership-ai-platform/internal/http/middleware"
	"github.com/wolfman30/dealership-ai-platform/internal/inventory"
	"github.com/wolfman30/dealership-ai-platform/internal/leads"
	"github.com/wolfman30/dealership-ai-platform/internal/lifecycle"
	"github.com/wolfman30/dealership-ai-platform/internal/scoring"
	"github.com/wolfman30/dealership-ai-platform/internal/webchat"
	"github.com/wolfman30/dealership-ai-platform/pkg/logging"
)

func main() {
	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.NewWithOptions(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger.Info("starting dealership-ai-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var awsCfg *aws.Config
	if loaded, err := mainconfig.LoadAWSConfig(ctx, cfg); err != nil {
		logger.Warn("failed to load AWS config; AWS-backed features disabled", "error", err)
	} else {
		awsCfg = &loaded
	}

	registry := bootstrap.BuildMetrics()
	pool := bootstrap.BuildPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool != nil {
		defer pool.Close()
	}
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}

	store := setupStorage(pool, logger)

	// Conversation history and model
	var dynamoClient *dynamodb.Client
	if awsCfg != nil && cfg.HistoryBackend == bootstrap.HistoryDynamoDB {
		dynamoClient = dynamodb.NewFromConfig(*awsCfg)
	}
	history, err := bootstrap.BuildHistoryStore(cfg, redisClient, dynamoClient, logger)
	if err != nil {
		logger.Error("failed to configure conversation history", "error", err)
		os.Exit(1)
	}
	model, err := bootstrap.BuildModel(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to configure model", "error", err)
		os.Exit(1)
	}
	defer model.Close()

	// Lifecycle machine. The webchat status hook is bound after the chat
	// handler exists, since the handler needs the orchestrator which needs
	// the machine.
	chatHook := &lateHook{}
	hooks := bootstrap.BuildLifecycleHooks(cfg, bootstrap.HookDeps{
		AWS:     awsCfg,
		History: history,
		Model:   model,
		Logger:  logger,
	})
	hooks = append(hooks, chatHook.Fire)
	machine := lifecycle.NewMachine(store.lifecycle,
		lifecycle.WithHooks(hooks...),
		lifecycle.WithMetrics(registry.Lifecycle),
		lifecycle.WithLogger(logger),
	)

	// Inventory
	cars := setupInventory(cfg, store.inventory, redisClient, logger)
	ingestor := inventory.NewIngestor(model.Client, cars, logger)

	// Compliance audit trail
	var audit *compliance.AuditService
	if db := bootstrap.BuildAuditDB(cfg.DatabaseURL, logger); db != nil {
		defer db.Close()
		audit = compliance.NewAuditService(db)
	}

	orchestrator, err := bootstrap.BuildOrchestrator(cfg, bootstrap.ConversationDeps{
		Model:     model,
		Leads:     store.leads,
		Machine:   machine,
		Inventory: inventory.NewSource(cars),
		History:   history,
		Audit:     audit,
		Registry:  registry,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("failed to build conversation orchestrator", "error", err)
		os.Exit(1)
	}

	go orchestrator.Run(ctx, time.Minute)

	chat := webchat.NewHandler(orchestrator, logger)
	chatHook.Bind(chat.StatusHook())

	whatsappDeps := bootstrap.WhatsAppDeps{
		Transitions: machine,
		Registry:    registry,
		WebhookPath: router.WhatsAppWebhookPath,
	}
	if pool != nil {
		processed := events.NewProcessedStore(pool, logger)
		go processed.Run(ctx, time.Hour)
		whatsappDeps.Deduper = processed
	}
	whatsapp, mode := bootstrap.BuildWhatsAppHandler(cfg, orchestrator, store.leads, whatsappDeps, logger)
	logger.Info("whatsapp webhook configured", "reply_mode", mode)

	limiter := httpmiddleware.NewRateLimiter(cfg.PublicRateLimit, cfg.PublicRateBurst)
	go limiter.Run(ctx, time.Minute)

	var wg sync.WaitGroup
	if deliverer := setupOutboxDelivery(cfg, awsCfg, pool, logger); deliverer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deliverer.Start(ctx)
		}()
	}

	routerCfg := &router.Config{
		Logger:              logger,
		LeadsHandler:        leads.NewHandler(store.leads, logger),
		ScoreHandler:        handlers.NewScoreHandler(scoring.NewService(store.leads, logger), logger),
		TransitionsHandler:  handlers.NewTransitionsHandler(store.leads, machine, logger),
		ConversationHandler: conversation.NewHandler(orchestrator, logger),
		WebChatHandler:      chat,
		MessagingHandler:    whatsapp,
		InventoryHandler:    inventory.NewHandler(cars, ingestor, logger),
		AdminAuthSecret:     cfg.AdminJWTSecret,
		MetricsHandler:      registry.Handler,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		PublicLimiter:       limiter,
	}
	if audit != nil {
		routerCfg.ComplianceEvents = handlers.NewComplianceEventsHandler(audit, logger)
	}
	if pool != nil {
		routerCfg.HealthCheck = pool.Ping
	}
	if cfg.AdminJWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET not set; staff and admin routes are disabled")
	}
	r := router.New(routerCfg)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	stop()
	wg.Wait()

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// storage groups the persistence backends. Without Postgres everything
// lives in memory.
type storage struct {
	leads     leads.Repository
	lifecycle lifecycle.Store
	inventory inventory.Store
}

func setupStorage(pool *pgxpool.Pool, logger *logging.Logger) storage {
	if pool == nil {
		logger.Warn("DATABASE_URL not set or unreachable; using in-memory storage")
		repo := leads.NewInMemoryRepository()
		return storage{
			leads:     repo,
			lifecycle: lifecycle.NewMemoryStore(repo),
			inventory: inventory.NewMemoryStore(),
		}
	}
	return storage{
		leads:     leads.NewPostgresRepository(pool),
		lifecycle: lifecycle.NewPostgresStore(pool, events.NewOutboxStore(pool)),
		inventory: inventory.NewPostgresStore(pool),
	}
}

func setupInventory(cfg *appconfig.Config, store inventory.Store, redisClient *redis.Client, logger *logging.Logger) inventory.Store {
	if redisClient == nil || cfg.InventoryCacheTTL <= 0 {
		return store
	}
	return inventory.NewCachedStore(store, redisClient, cfg.InventoryCacheTTL, logger)
}

// setupOutboxDelivery returns nil unless both Postgres and the lead events
// queue are configured.
func setupOutboxDelivery(cfg *appconfig.Config, awsCfg *aws.Config, pool *pgxpool.Pool, logger *logging.Logger) *events.Deliverer {
	if pool == nil || awsCfg == nil || cfg.LeadEventsQueueURL == "" {
		logger.Info("lead event delivery disabled")
		return nil
	}
	publisher := events.NewSQSPublisher(sqs.NewFromConfig(*awsCfg), cfg.LeadEventsQueueURL)
	return events.NewDeliverer(events.NewOutboxStore(pool), publisher, logger)
}

// lateHook forwards to a hook bound after the machine is built.
type lateHook struct {
	mu   sync.RWMutex
	hook lifecycle.Hook
}

func (h *lateHook) Bind(hook lifecycle.Hook) {
	h.mu.Lock()
	h.hook = hook
	h.mu.Unlock()
}

func (h *lateHook) Fire(ctx context.Context, lead *leads.Lead, rec lifecycle.Record) {
	h.mu.RLock()
	hook := h.hook
	h.mu.RUnlock()
	if hook != nil {
		hook(ctx, lead, rec)
	}
}
