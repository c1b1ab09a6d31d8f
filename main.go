package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"marketplace-messaging/internal/config"
	"marketplace-messaging/internal/db"
	"marketplace-messaging/internal/handlers"
	"marketplace-messaging/internal/messaging"
	"marketplace-messaging/internal/middleware"
	"marketplace-messaging/internal/observability"
	"marketplace-messaging/internal/profiles"
	"marketplace-messaging/internal/rabbitmq"
	"marketplace-messaging/internal/realtime"
	"marketplace-messaging/internal/repositories"
	"marketplace-messaging/internal/telemetry"
	"marketplace-messaging/internal/ws"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "marketplace-messaging",
		Short: "Admin/applicant messaging for the job marketplace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			database, err := db.Connect(cfg.DSN)
			if err != nil {
				return err
			}
			defer database.Close()
			return db.Migrate(database)
		},
	})
	return cmd
}

func serve(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTelEndpoint, cfg.ServiceName, cfg.Env)
	if err != nil {
		log.Printf("tracing disabled: %v", err)
		shutdownTracer = func(context.Context) error { return nil }
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("tracer shutdown: %v", err)
		}
	}()

	database, err := db.Connect(cfg.DSN)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := db.Migrate(database); err != nil {
		return err
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	defer publisher.Close()
	log.Printf("event publisher mode=%s reason=%q", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, cfg.AMQP.AuditRoutingKey, cfg.ServiceName, cfg.Env)

	profileConn, err := profiles.Dial(cfg.Profiles.GRPCAddr)
	if err != nil {
		return err
	}
	defer profileConn.Close()
	var lookup profiles.Lookup = profiles.NewGRPCClient(profileConn)
	if cfg.Profiles.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Profiles.RedisAddr})
		defer rdb.Close()
		lookup = profiles.NewCachedLookup(lookup, rdb, cfg.Profiles.CacheTTL)
	}

	messageRepo := repositories.NewMessageRepo(database)
	broker := realtime.NewBroker()
	listener := realtime.NewPGListener(cfg.DSN, db.NotifyChannel, broker, messageRepo)
	go func() {
		if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("realtime listener stopped: %v", err)
		}
	}()

	conversationRepo := repositories.NewConversationRepo(database)
	proposalRepo := repositories.NewProposalRepo(database)
	aggregator := messaging.NewAggregator(conversationRepo, lookup)

	hub := ws.NewHub()
	verifier := middleware.NewTokenVerifier(cfg.JWTSecret, cfg.JWTIssuer)

	conversationHandler := handlers.NewConversationHandler(aggregator, messageRepo)
	proposalHandler := handlers.NewProposalHandler(proposalRepo, publisher, audit)
	sessionWS := ws.NewSessionHandler(hub, aggregator, messageRepo, broker, audit)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		if err := database.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": hub.Count()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMiddleware := middleware.AuthMiddleware(verifier)

	router.GET("/conversations", authMiddleware, conversationHandler.ListConversations)
	router.GET("/conversations/:kind/:id/messages", authMiddleware, conversationHandler.GetMessages)
	router.POST("/conversations/:kind/:id/messages", authMiddleware, conversationHandler.PostMessage)
	router.POST("/proposals/:id/decision", authMiddleware, proposalHandler.DecideProposal)

	router.GET("/ws/messages", authMiddleware, sessionWS.Handle)

	handlers.RegisterDebugRoutes(router, audit, hub, verifier, cfg.DebugRoutes)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on :%s", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Printf("shutting down")
	hub.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
