// Package main is the entry point for the live chat service.
// @title Live Chat Service API
// @version 1.0
// @description Realtime visitor to agent chat with routing, AI handoff and channel delivery
// @termsOfService http://swagger.io/terms/

// @contact.name API Support

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8086
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Bearer API key
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/dramac/livechat-service/docs"
	"github.com/dramac/livechat-service/internal/api/handlers"
	"github.com/dramac/livechat-service/internal/api/middleware"
	"github.com/dramac/livechat-service/internal/api/routes"
	"github.com/dramac/livechat-service/internal/config"
	"github.com/dramac/livechat-service/internal/core/ai"
	"github.com/dramac/livechat-service/internal/core/broker"
	"github.com/dramac/livechat-service/internal/core/cache"
	"github.com/dramac/livechat-service/internal/core/channel"
	"github.com/dramac/livechat-service/internal/core/docdb"
	corenotify "github.com/dramac/livechat-service/internal/core/notify"
	"github.com/dramac/livechat-service/internal/core/vault"
	einoai "github.com/dramac/livechat-service/internal/infrastructure/ai/eino"
	memorybroker "github.com/dramac/livechat-service/internal/infrastructure/broker/memory"
	redisbroker "github.com/dramac/livechat-service/internal/infrastructure/broker/redis"
	memorycache "github.com/dramac/livechat-service/internal/infrastructure/cache/memory"
	rediscache "github.com/dramac/livechat-service/internal/infrastructure/cache/redis"
	"github.com/dramac/livechat-service/internal/infrastructure/channel/webhook"
	memorydocdb "github.com/dramac/livechat-service/internal/infrastructure/docdb/memory"
	"github.com/dramac/livechat-service/internal/infrastructure/docdb/mongodb"
	"github.com/dramac/livechat-service/internal/infrastructure/notify/amqp"
	dotenvvault "github.com/dramac/livechat-service/internal/infrastructure/vault/dotenv"
	"github.com/dramac/livechat-service/internal/logging"
	"github.com/dramac/livechat-service/internal/pkg/encryption"
	"github.com/dramac/livechat-service/internal/services/chat"
	"github.com/dramac/livechat-service/internal/services/conversation"
	"github.com/dramac/livechat-service/internal/services/handoff"
	"github.com/dramac/livechat-service/internal/services/notify"
	"github.com/dramac/livechat-service/internal/services/realtime"
	"github.com/dramac/livechat-service/internal/services/routing"
	"github.com/dramac/livechat-service/internal/services/sweeper"
	"github.com/dramac/livechat-service/internal/services/transcript"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.Setup("error", logging.FormatJSON)
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.Setup(cfg.Log.Level, logging.Format(cfg.Log.Format))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Resolve secret references before anything connects
	vaultClient, err := createVaultClient(cfg.Security)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize vault client")
	}
	defer vaultClient.Close()
	if err := resolveSecrets(ctx, vaultClient, cfg); err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve secrets")
	}

	// Initialize document db client using factory pattern
	docDBClient, err := createDocDBClient(ctx, cfg.DocDB)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize document db client")
	}
	defer docDBClient.Close(context.Background())

	if err := docDBClient.EnsureIndexes(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to ensure indexes")
	}

	// Initialize cache client using factory pattern
	cacheClient, err := createCacheClient(cfg.Cache)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize cache client")
	}
	defer cacheClient.Close()

	// Initialize realtime broker using factory pattern
	brokerClient, err := createBroker(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize realtime broker")
	}
	defer brokerClient.Close()

	// Initialize notification publisher using factory pattern
	publisher, err := createNotifyPublisher(cfg.Notify, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize notification publisher")
	}
	defer publisher.Close()

	dispatcher, err := notify.NewDispatcher(&notify.DispatcherConfig{
		Publisher: publisher,
		Dedup:     cacheClient,
		Timeout:   cfg.Notify.Timeout,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize notification dispatcher")
	}
	defer dispatcher.Wait()

	sealer, err := createSealer(cfg.Security, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize encryptor")
	}

	transcriptService, err := transcript.NewService(&transcript.Config{
		Cache:    cacheClient,
		Sealer:   sealer,
		Messages: docDBClient.Messages(),
		TTL:      cfg.Cache.TranscriptTTL,
		Limit:    cfg.AI.ContextMessages,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize transcript service")
	}

	conversations, err := conversation.NewService(&conversation.ServiceConfig{
		Store:    docDBClient,
		Notifier: dispatcher,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize conversation service")
	}

	engine, err := routing.NewEngine(&routing.EngineConfig{
		Store:         docDBClient,
		Conversations: conversations,
		IntentMap:     cfg.Routing.IntentMap,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize routing engine")
	}
	rebalancer := routing.NewRebalancer(engine, cfg.Routing.RebalanceDebounce, logger)
	defer rebalancer.Close()

	gate, err := createGate(ctx, cfg.AI, docDBClient, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize handoff gate")
	}

	hub, err := realtime.NewHub(&realtime.HubConfig{
		Broker:        brokerClient,
		Messages:      docDBClient.Messages(),
		Buffer:        cfg.Realtime.Buffer,
		GapTimeout:    cfg.Realtime.GapTimeout,
		TypingTimeout: cfg.Realtime.TypingTimeout,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize realtime hub")
	}
	defer hub.Close()

	presence, err := realtime.NewRegistry(&realtime.RegistryConfig{
		Hub:    hub,
		TTL:    cfg.Sweep.PresenceTTL,
		Logger: logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize presence registry")
	}
	go presence.Run(ctx, cfg.Sweep.PresenceTTL/3)

	sender, err := createSender(cfg.Channel, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize channel sender")
	}

	chatService, err := chat.New(&chat.Config{
		Store:         docDBClient,
		Conversations: conversations,
		Router:        engine,
		Publisher:     hub,
		Gate:          gate,
		Presence:      presence,
		Rebalancer:    rebalancer,
		Transcript:    transcriptService,
		Sender:        sender,
		Workers:       cfg.Queue.Workers,
		QueueSize:     cfg.Queue.Size,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize chat service")
	}
	chatService.Start()
	defer chatService.Close()

	sw, err := sweeper.New(&sweeper.Config{
		Store:           docDBClient,
		Conversations:   conversations,
		MissedThreshold: cfg.Sweep.MissedThreshold,
		StaleWindow:     cfg.Sweep.StaleWindow,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize sweeper")
	}
	scheduler, err := sweeper.NewScheduler(&sweeper.SchedulerConfig{
		Sweeper:     sw,
		Tenants:     docDBClient.Conversations(),
		Presence:    presence,
		Interval:    cfg.Sweep.Interval,
		AfterTenant: rebalancer.Trigger,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize sweep scheduler")
	}
	go scheduler.Run(ctx)

	// Set Gin mode
	gin.SetMode(cfg.Server.GinMode)

	router := setupRouter(cfg, logger, &routes.Config{
		HealthHandler: handlers.NewHealthHandler(map[string]handlers.Pinger{
			"docdb":  docDBClient,
			"cache":  cacheClient,
			"broker": brokerClient,
		}, chatService.QueueLen),
		ConversationsHandler: handlers.NewConversationsHandler(conversations, chatService),
		MessagesHandler:      handlers.NewMessagesHandler(chatService, hub, handlers.DefaultKeepAlive, logger),
		AgentsHandler:        handlers.NewAgentsHandler(chatService, presence),
		ConsoleHandler:       handlers.NewConsoleHandler(chatService, hub, presence, cfg.Server.CORSOrigins, logger),
		WebhooksHandler:      handlers.NewWebhooksHandler(chatService),
		MaintenanceHandler:   handlers.NewMaintenanceHandler(sw, engine),
		AuthMiddleware:       middleware.NewAuthMiddleware(cfg.Security.APIKeys, cfg.Channel.WebhookToken),
		TenantMiddleware:     middleware.NewTenantMiddleware(),
	})

	srv := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Server.Address()).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	logger.Info().Msg("server exited")
}

// createVaultClient creates a vault client based on the configuration.
func createVaultClient(cfg config.SecurityConfig) (vault.Client, error) {
	switch vault.Type(cfg.VaultType) {
	case vault.TypeDotEnv:
		return dotenvvault.NewClient(cfg.VaultFile)
	default:
		return nil, errors.New("unsupported vault type: " + cfg.VaultType)
	}
}

// resolveSecrets replaces dotenv:// references in secret settings.
func resolveSecrets(ctx context.Context, c vault.Client, cfg *config.Config) error {
	for _, s := range []*string{
		&cfg.Security.EncryptionKey,
		&cfg.Cache.Password,
		&cfg.DocDB.URI,
		&cfg.Notify.AMQPURL,
		&cfg.AI.APIKey,
		&cfg.Channel.WebhookToken,
	} {
		v, err := vault.Resolve(ctx, c, *s)
		if err != nil {
			return err
		}
		*s = v
	}
	for i, key := range cfg.Security.APIKeys {
		v, err := vault.Resolve(ctx, c, key)
		if err != nil {
			return err
		}
		cfg.Security.APIKeys[i] = v
	}
	return nil
}

// createDocDBClient creates a document database client based on the configuration.
func createDocDBClient(ctx context.Context, cfg config.DocDBConfig) (docdb.Client, error) {
	switch docdb.Type(cfg.Type) {
	case docdb.TypeMongoDB, docdb.TypeCosmosDB:
		// CosmosDB speaks the MongoDB protocol
		return mongodb.NewClient(ctx, &mongodb.ClientConfig{
			URI:          cfg.URI,
			DatabaseName: cfg.Database,
		})
	case docdb.TypeMemory:
		return memorydocdb.NewClient(), nil
	default:
		return nil, errors.New("unsupported docdb type: " + cfg.Type)
	}
}

// createCacheClient creates a cache client based on the configuration.
func createCacheClient(cfg config.CacheConfig) (cache.Cache, error) {
	switch cache.Type(cfg.Type) {
	case cache.TypeRedis:
		return rediscache.NewCache(rediscache.Config{
			Host:       cfg.Host,
			Port:       cfg.Port,
			Password:   cfg.Password,
			DB:         cfg.DB,
			DefaultTTL: cfg.TTL,
			KeyPrefix:  cfg.KeyPrefix,
		})
	case cache.TypeMemory:
		return memorycache.NewCache(cfg.TTL), nil
	default:
		return nil, errors.New("unsupported cache type: " + cfg.Type)
	}
}

// createBroker creates the realtime broker. Redis shares the cache connection settings.
func createBroker(cfg *config.Config, logger zerolog.Logger) (broker.Broker, error) {
	switch broker.Type(cfg.Broker.Type) {
	case broker.TypeRedis:
		return redisbroker.NewBroker(redisbroker.Config{
			Host:          cfg.Cache.Host,
			Port:          cfg.Cache.Port,
			Password:      cfg.Cache.Password,
			DB:            cfg.Cache.DB,
			ChannelPrefix: cfg.Broker.ChannelPrefix,
			Logger:        logger,
		})
	case broker.TypeMemory:
		logger.Warn().Msg("memory broker only fans out within this process")
		return memorybroker.NewBroker(), nil
	default:
		return nil, errors.New("unsupported broker type: " + cfg.Broker.Type)
	}
}

// createNotifyPublisher creates the notification publisher.
func createNotifyPublisher(cfg config.NotifyConfig, logger zerolog.Logger) (corenotify.Publisher, error) {
	switch corenotify.Type(cfg.Type) {
	case corenotify.TypeAMQP:
		return amqp.NewPublisher(amqp.Config{
			URL:      cfg.AMQPURL,
			Exchange: cfg.Exchange,
			Logger:   logger,
		})
	case corenotify.TypeLog:
		return notify.NewLogPublisher(logger), nil
	default:
		return nil, errors.New("unsupported notify type: " + cfg.Type)
	}
}

// createSealer creates the transcript encryptor.
func createSealer(cfg config.SecurityConfig, logger zerolog.Logger) (encryption.Sealer, error) {
	if cfg.EncryptionKey == "" {
		logger.Warn().Msg("SECRETS_ENCRYPTION_KEY not set, transcripts are cached unencrypted")
		return encryption.PlainSealer{}, nil
	}
	return encryption.NewAESSealer(cfg.EncryptionKey)
}

// createGate builds the AI handoff gate. Without a provider every
// conversation goes to routing.
func createGate(ctx context.Context, cfg config.AIConfig, store docdb.Client, logger zerolog.Logger) (*handoff.Gate, error) {
	gateCfg := &handoff.GateConfig{
		Agents:          store.Agents(),
		Keywords:        handoff.ParseKeywords(cfg.HandoffKeywords),
		Threshold:       cfg.ConfidenceThreshold,
		Timeout:         cfg.Timeout,
		ContextMessages: cfg.ContextMessages,
		Logger:          logger,
	}

	if cfg.KnowledgeBasePath != "" {
		kb, err := handoff.LoadKnowledgeBase(cfg.KnowledgeBasePath)
		if err != nil {
			return nil, err
		}
		gateCfg.KnowledgeBase = kb
	}

	switch ai.Type(cfg.Provider) {
	case ai.TypeArk:
		generator, err := einoai.NewGenerator(ctx, &einoai.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Region:  cfg.Region,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		gateCfg.Generator = generator
	case ai.TypeNone:
	default:
		return nil, errors.New("unsupported AI provider: " + cfg.Provider)
	}

	return handoff.NewGate(gateCfg)
}

// createSender creates the outbound channel adapter.
func createSender(cfg config.ChannelConfig, logger zerolog.Logger) (channel.Sender, error) {
	if cfg.WebhookURL == "" {
		return channel.Disabled{}, nil
	}
	return webhook.NewSender(&webhook.Config{
		URL:        cfg.WebhookURL,
		Token:      cfg.WebhookToken,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		Logger:     logger,
	})
}

// setupRouter creates and configures the Gin router.
func setupRouter(cfg *config.Config, logger zerolog.Logger, routesCfg *routes.Config) *gin.Engine {
	router := gin.New()

	loggingMw := middleware.NewLoggingMiddlewareWithLogger(logger)
	errorMw := middleware.NewErrorMiddleware()
	cors := middleware.NewCORSMiddleware(middleware.DefaultCORSConfig(cfg.Server.CORSOrigins))

	routes.SetupWithMiddleware(router, routesCfg, loggingMw, errorMw, cors)

	// Swagger documentation endpoint
	router.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return router
}
