package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messenger-service/internal/bus"
	"messenger-service/internal/db"
	"messenger-service/internal/handlers"
	"messenger-service/internal/middleware"
	"messenger-service/internal/observability"
	"messenger-service/internal/repositories"
	"messenger-service/internal/sync"
	"messenger-service/internal/ws"
)

func main() {
	database, err := db.Connect()
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	ctx := context.Background()
	shutdownTracing, err := observability.InitTracing(ctx, "messenger-service", getEnv("OTLP_ENDPOINT", ""))
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer shutdownTracing(ctx)

	var eventBus bus.Bus
	switch backend := getEnv("BUS_BACKEND", "memory"); backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: getEnv("REDIS_ADDR", "localhost:6379")})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		eventBus = bus.NewRedis(client)
		log.Printf("bus backend=redis")
	default:
		eventBus = bus.NewMemory()
		log.Printf("bus backend=memory")
	}

	publisher := bus.NewPublisher(getEnv("AMQP_URL", ""), getEnv("AMQP_EXCHANGE", "messenger.events"))
	defer publisher.Close()
	log.Printf("bus mirror mode=%s", bus.PublisherMode(publisher))
	eventBus = bus.NewMirror(eventBus, publisher)

	conversationRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	seenRepo := repositories.NewSeenRepo(database)
	userRepo := repositories.NewUserRepo(database)

	engine := sync.NewEngine(conversationRepo, messageRepo, userRepo, seenRepo, eventBus)

	secret := []byte(getEnv("JWT_SECRET", "dev-secret"))

	conversationHandler := handlers.NewConversationHandler(engine, conversationRepo)
	messageHandler := handlers.NewMessageHandler(engine, conversationRepo, messageRepo)
	userHandler := handlers.NewUserHandler(userRepo)

	conversationWS := ws.NewConversationSocketHandler(eventBus, conversationRepo, messageRepo, engine, secret)
	feedWS := ws.NewFeedSocketHandler(eventBus, conversationRepo, secret)

	router := gin.Default()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("messenger-service"))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(secret)

	router.GET("/users", authMiddleware, userHandler.List)

	router.POST("/conversations", authMiddleware, conversationHandler.Create)
	router.GET("/conversations", authMiddleware, conversationHandler.List)
	router.GET("/conversations/:conversation_id", authMiddleware, conversationHandler.Get)
	router.DELETE("/conversations/:conversation_id", authMiddleware, conversationHandler.Delete)
	router.POST("/conversations/:conversation_id/seen", authMiddleware, conversationHandler.MarkSeen)
	router.GET("/conversations/:conversation_id/messages", authMiddleware, messageHandler.List)
	router.POST("/conversations/:conversation_id/messages", authMiddleware, messageHandler.Post)
	router.PATCH("/conversations/:conversation_id/messages/:message_id", authMiddleware, messageHandler.Patch)

	router.GET("/ws/conversations/:conversation_id", conversationWS.Handle)
	router.GET("/ws/feed", feedWS.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	port := getEnv("PORT", "8083")
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
