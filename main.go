package main

import (
	"context"
	"log"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	grpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"messenger-sync/internal/attachments"
	"messenger-sync/internal/config"
	"messenger-sync/internal/db"
	grpcclient "messenger-sync/internal/grpc"
	"messenger-sync/internal/handlers"
	"messenger-sync/internal/middleware"
	"messenger-sync/internal/observability"
	"messenger-sync/internal/protocol"
	"messenger-sync/internal/rabbitmq"
	"messenger-sync/internal/repositories"
	"messenger-sync/internal/state"
	"messenger-sync/internal/syncengine"
	"messenger-sync/internal/telemetry"
	"messenger-sync/internal/ws"
)

const serviceName = "messenger-sync"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.InitTracing(ctx, serviceName, cfg.OTLP.Endpoint)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	database, err := db.Connect(cfg.DB.DSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	profileConn, err := grpc.NewClient(cfg.Profile.GRPCAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		log.Fatalf("failed to connect to profile grpc: %v", err)
	}
	defer profileConn.Close()
	profileClient := grpcclient.NewProfileClient(profileConn)
	if err := profileClient.WaitReady(ctx); err != nil {
		log.Printf("profile service not ready, continuing without it: %v", err)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	defer publisher.Close()
	if reason := rabbitmq.PublisherNoopReason(publisher); reason != "" {
		log.Printf("audit publisher mode=%s reason=%s", rabbitmq.PublisherMode(publisher), reason)
	} else {
		log.Printf("audit publisher mode=%s", rabbitmq.PublisherMode(publisher))
	}
	audit := telemetry.NewAuditEmitter(publisher, "audit.messenger-sync", serviceName, cfg.Environment)

	amqpPublisher, err := observability.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	if err != nil {
		log.Printf("ws event publisher disabled: %v", err)
	} else {
		observability.SetPublisher(amqpPublisher)
		defer amqpPublisher.Close()
	}

	attachmentStore, err := attachments.NewStore(filepath.Join(cfg.DataDir, "cache"))
	if err != nil {
		log.Fatalf("failed to init attachment cache: %v", err)
	}

	convRepo := repositories.NewConversationRepo(database)
	msgRepo := repositories.NewMessageRepo(database)

	registry := state.NewRegistry()
	hub := ws.NewHub()

	engine := syncengine.NewEngine(convRepo, msgRepo, profileClient, registry, hub, attachmentStore, audit, cfg.Sync.ProfileTTL)
	flusher := syncengine.NewFlusher(engine, cfg.Sync.FlushInterval)
	go flusher.Run(ctx)

	factory := protocol.LoopbackFactory{}
	for _, account := range cfg.Accounts {
		if err := engine.AttachAccount(ctx, factory, account); err != nil {
			log.Printf("failed to attach account %s: %v", account, err)
		}
	}

	accountHandler := handlers.NewAccountHandler(ctx, engine, registry, factory, audit)
	conversationHandler := handlers.NewConversationHandler(engine, registry, audit)
	messageHandler := handlers.NewMessageHandler(engine, registry, audit)
	accountWS := ws.NewAccountWebSocketHandler(hub, registry)

	router := gin.Default()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	accountMiddleware := middleware.AccountMiddleware(registry)

	router.GET("/accounts", accountHandler.ListAccounts)
	router.POST("/accounts", accountHandler.AddAccount)
	router.DELETE("/accounts/:account", accountHandler.RemoveAccount)
	router.POST("/accounts/:account/select", accountHandler.SelectAccount)

	router.GET("/conversations", accountMiddleware, conversationHandler.ListConversations)
	router.POST("/conversations/start", accountMiddleware, conversationHandler.StartConversation)
	router.POST("/conversations/:topic/read", accountMiddleware, conversationHandler.MarkRead)
	router.POST("/conversations/:topic/consent", accountMiddleware, conversationHandler.SetConsent)
	router.POST("/conversations/:topic/status", accountMiddleware, conversationHandler.SetTopicStatus)
	router.DELETE("/conversations/pending", accountMiddleware, conversationHandler.CleanupPending)

	router.GET("/conversations/:topic/messages", accountMiddleware, messageHandler.GetMessages)
	router.POST("/conversations/:topic/messages", accountMiddleware, messageHandler.PostMessage)
	router.POST("/conversations/:topic/messages/:message_id/reactions", accountMiddleware, messageHandler.PostReaction)

	router.GET("/ws/accounts/:account", accountWS.Handle)

	handlers.RegisterDebugRoutes(router, audit, cfg.Debug)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
