package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"classroom-messaging/internal/db"
	"classroom-messaging/internal/handlers"
	"classroom-messaging/internal/middleware"
	"classroom-messaging/internal/observability"
	"classroom-messaging/internal/rabbitmq"
	"classroom-messaging/internal/relay"
	"classroom-messaging/internal/repositories"
	"classroom-messaging/internal/telemetry"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	ctx := context.Background()
	shutdownTracer, err := telemetry.InitTracer(ctx, "classroom-messaging", getEnv("OTLP_ENDPOINT", ""))
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(ctx); err != nil {
			log.Printf("tracer shutdown: %v", err)
		}
	}()

	database, err := db.Connect()
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	publisher := rabbitmq.NewPublisher(getEnv("AMQP_URL", ""), getEnv("AMQP_EXCHANGE", "messaging.events"))
	defer publisher.Close()

	emitter := telemetry.NewAuditEmitter(publisher, "audit.messaging", "classroom-messaging", getEnv("ENVIRONMENT", "development"))

	secret := []byte(getEnv("JWT_SECRET", "dev-secret"))
	repo := repositories.NewMessageRepo(database)
	hub := relay.NewHub(publisher)

	messageHandler := handlers.NewMessageHandler(repo, emitter)
	channelHandler := relay.NewChannelHandler(hub, repo, secret, emitter)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("classroom-messaging"))
	router.Use(observability.HTTPMetricsMiddleware())

	auth := middleware.Auth(secret)

	router.GET("/messages", auth, messageHandler.ListMessages)
	router.POST("/messages", auth, messageHandler.CreateMessage)
	router.GET("/messages/unread-count", auth, messageHandler.UnreadCount)

	router.GET("/ws", channelHandler.Handle)

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
