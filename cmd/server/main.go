package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"invoicing-backend/internal/assistant"
	"invoicing-backend/internal/config"
	"invoicing-backend/internal/database"
	"invoicing-backend/internal/handlers"
	"invoicing-backend/internal/llm"
	"invoicing-backend/internal/middleware"
	"invoicing-backend/internal/repository"
	"invoicing-backend/internal/router"
	"invoicing-backend/internal/services"
	"invoicing-backend/internal/websocket"
	"invoicing-backend/internal/worker"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		printDevToken(os.Args[2:])
		return
	}

	log.Println("🚀 Starting Invoicing Backend...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("✗ PostgreSQL connection failed: %v", err)
	}
	defer pool.Close()
	log.Println("✓ PostgreSQL connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		log.Fatalf("✗ Redis connection failed: %v", err)
	}
	defer redisClients.Close()
	log.Println("✓ Redis connected")

	// ──── Step 4: Run Database Migrations ────
	if err := database.RunMigrations(pool); err != nil {
		log.Fatalf("✗ Database migration failed: %v", err)
	}
	log.Println("✓ Database migrations applied")

	// ──── Initialize Repositories ────
	clientRepo := repository.NewClientRepo(pool)
	invoiceRepo := repository.NewInvoiceRepo(pool)
	paymentRepo := repository.NewPaymentRepo(pool)

	// ──── Step 5: Initialize AI Provider ────
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	provider, err := llm.New(ctx, llm.Config{
		Provider:  cfg.AIProvider,
		APIKey:    cfg.AIAPIKey,
		Model:     cfg.AIModel,
		BaseURL:   cfg.AIBaseURL,
		MaxTokens: cfg.AIMaxTokens,
	})
	if err != nil {
		var cfgErr *llm.ConfigError
		if errors.As(err, &cfgErr) {
			log.Fatalf("✗ AI provider misconfigured: %v", err)
		}
		log.Fatalf("✗ AI provider initialization failed: %v", err)
	}
	if closer, ok := provider.(io.Closer); ok {
		defer closer.Close()
	}
	guard := llm.NewGuard(provider, llm.GuardSettings{
		RequestsPerMinute: cfg.AIRequestsPerMin,
		MaxFailures:       uint32(cfg.AIBreakerMaxFailures),
		Timeout:           cfg.AIBreakerTimeout,
	})
	log.Printf("✓ AI provider initialized (%s)", guard.Name())

	// ──── Initialize Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	events := services.NewInvoiceEvents(redisClients.Queue)
	reminders := services.NewReminderQueue(redisClients.Queue)
	emailService := services.NewEmailService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.FrontendURL)
	executor := assistant.NewExecutor(clientRepo, invoiceRepo, events)

	// ──── Initialize Handlers ────
	h := router.Handlers{
		Client:  handlers.NewClientHandler(clientRepo),
		Invoice: handlers.NewInvoiceHandler(invoiceRepo, events, reminders),
		Payment: handlers.NewPaymentHandler(paymentRepo, events),
		AI: handlers.NewAIHandler(guard, executor, clientRepo, invoiceRepo, paymentRepo, handlers.AIHandlerConfig{
			AutoExecuteConfidence: cfg.AutoExecuteConfidence,
			MaxTokens:             cfg.AIMaxTokens,
		}),
	}

	chatLimiter := middleware.NewRateLimiter(cfg.ChatRateLimit, cfg.ChatRateWindow)
	go chatLimiter.Run(ctx)

	// ──── Step 6: Start Reminder Worker Pool ────
	workerPool := worker.NewPool(redisClients.Queue, guard, emailService, invoiceRepo, events, cfg.WorkerCount)
	workerPool.Start()
	log.Printf("✓ Worker pool started (%d goroutines)", cfg.WorkerCount)

	overdueScheduler := services.NewOverdueScheduler(invoiceRepo, events, reminders, cfg.OverdueSweepSchedule)
	if err := overdueScheduler.Start(); err != nil {
		log.Fatalf("✗ Overdue scheduler failed to start: %v", err)
	}
	log.Printf("✓ Overdue scheduler started (%s)", cfg.OverdueSweepSchedule)

	// ──── Step 7: Start WebSocket Hub ────
	origins := router.Origins(cfg.FrontendURL)
	wsHub := websocket.NewHub(redisClients.PubSub, jwtAuth, origins)
	log.Println("✓ WebSocket hub started")

	// ──── Step 8: Start HTTP Server ────
	r := router.New(jwtAuth, chatLimiter, h, wsHub, origins)

	// Chat streams lift the write deadline per request.
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		workerPool.Stop()
		overdueScheduler.Stop()
		stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("✓ Invoicing Backend ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1", cfg.Port)
	log.Printf("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}

// printDevToken signs a 24h access token for a user id, for local testing.
func printDevToken(args []string) {
	godotenv.Load()
	if len(args) != 1 {
		log.Fatal("usage: server token <user-id>")
	}
	userID, err := uuid.Parse(args[0])
	if err != nil {
		log.Fatalf("invalid user id: %v", err)
	}
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is not set")
	}
	token, err := middleware.NewJWTAuth(secret).GenerateAccessToken(userID, 24*time.Hour)
	if err != nil {
		log.Fatalf("failed to sign token: %v", err)
	}
	fmt.Println(token)
}
