package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yourorg/smartlib/internal/featureflags"
	"github.com/yourorg/smartlib/internal/handler"
	"github.com/yourorg/smartlib/internal/infrastructure/logger"
	"github.com/yourorg/smartlib/internal/infrastructure/redis"
	"github.com/yourorg/smartlib/internal/observability/metrics"
	"github.com/yourorg/smartlib/internal/observability/tracing"
	"github.com/yourorg/smartlib/internal/repository"
	"github.com/yourorg/smartlib/internal/security/audit"
	"github.com/yourorg/smartlib/internal/security/auth"
	"github.com/yourorg/smartlib/internal/security/middleware"
	"github.com/yourorg/smartlib/internal/security/ratelimit"
	"github.com/yourorg/smartlib/internal/service"
	"github.com/yourorg/smartlib/internal/worker"
	"github.com/yourorg/smartlib/pkg/config"
	"github.com/yourorg/smartlib/pkg/database"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize structured logger
	log := logger.NewLogger(cfg.LogLevel)
	log.Info("starting SmartLib server", slog.String("environment", cfg.Environment))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Initialize tracing (no-op unless an OTLP endpoint is configured)
	shutdownTracing, err := tracing.Init(ctx, log, "smartlib", cfg.Environment)
	if err != nil {
		log.Error("failed to initialize tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Connect to Postgres and migrate
	pool, err := database.NewConnectionPool(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Migrate(ctx); err != nil {
		log.Error("failed to migrate database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 5. Connect to Redis; the catalog cache degrades gracefully without it
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Error("failed to connect to Redis", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer redisClient.Close()
	} else {
		log.Warn("REDIS_URL not set, catalog caching disabled")
	}

	// 6. Initialize repositories
	db := pool.GetDB()
	bookRepo := repository.NewPostgresBookRepository(db, log)
	loanRepo := repository.NewPostgresLoanRepository(db, log)
	userRepo := repository.NewPostgresUserRepository(db, log)
	chatRepo := repository.NewPostgresChatRepository(db, log)

	// 7. Initialize services
	tokenManager := auth.NewTokenManager(cfg.JWTSecret, "smartlib")
	authService := service.NewAuthService(userRepo, tokenManager, cfg.TokenLifetime, log)
	lendingService := service.NewLendingService(bookRepo, loanRepo, log, cfg)

	var bookCache service.BookCache
	var invalidator service.CacheInvalidator
	if redisClient != nil {
		bookCache = redisClient
		invalidator = redisClient
	}
	queryService := service.NewQueryService(bookRepo, bookRepo, loanRepo, bookCache, time.Minute, log)
	catalogService := service.NewCatalogService(bookRepo, lendingService, invalidator, log)

	var inference service.InferenceClient
	if cfg.ChatInferenceURL != "" {
		inference = service.NewHTTPInferenceClient(cfg.ChatInferenceURL, cfg.ChatInferenceToken)
	}
	chatService := service.NewChatService(bookRepo, chatRepo, inference, cfg.ChatContextTTL, log)

	// 7a. Initialize security components
	rateLimiter := ratelimit.NewLimiter(100, time.Minute) // 100 requests per minute per user
	auditLogger := audit.NewLogger(log)

	// 8. Setup HTTP routes
	mux := http.NewServeMux()

	mux.Handle("POST /auth/register", handler.NewRegisterHandler(authService, log))
	mux.Handle("POST /auth/login", handler.NewLoginHandler(authService, rateLimiter, log))
	mux.Handle("GET /auth/me", handler.NewMeHandler(authService, log))
	mux.Handle("POST /auth/change-password", handler.NewChangePasswordHandler(authService, log))

	mux.Handle("GET /books", handler.NewBooksHandler(queryService, log))
	mux.Handle("GET /books/search", handler.NewBookSearchHandler(queryService, log))
	mux.Handle("GET /books/{id}", handler.NewBookDetailHandler(queryService, log))

	mux.Handle("POST /books/{id}/issue", handler.NewIssueHandler(lendingService, auditLogger, cfg.DefaultLoanDays, log))
	mux.Handle("POST /books/return/{issue_id}", handler.NewReturnHandler(lendingService, auditLogger, log))
	mux.Handle("GET /my-books", handler.NewMyBooksHandler(queryService, log))

	mux.Handle("POST /admin/books", handler.NewCreateBookHandler(catalogService, auditLogger, log))
	mux.Handle("PUT /admin/books/{id}", handler.NewUpdateBookHandler(catalogService, auditLogger, log))
	mux.Handle("DELETE /admin/books/{id}", handler.NewDeleteBookHandler(catalogService, auditLogger, log))
	mux.Handle("GET /admin/book-issues", handler.NewAdminIssuesHandler(queryService, log))

	mux.Handle("POST /chat", handler.NewChatHandler(chatService, log))
	mux.Handle("GET /chat/history", handler.NewChatHistoryHandler(chatService, log))
	if featureflags.EnabledDefault("chat_ws", true) {
		mux.Handle("GET /ws/chat", handler.NewChatSocketHandler(chatService, cfg.CORSAllowedOrigins, log))
		log.Info("websocket chat enabled")
	}

	mux.Handle("/metrics", promhttp.Handler())

	// Health and readiness endpoints (no auth required)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Health(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("database not ready"))
			return
		}
		if redisClient != nil {
			if err := redisClient.Ping(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte("redis not ready"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	// CORS middleware honoring configured origins
	handlerWithCORS := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if originAllowed(cfg.CORSAllowedOrigins, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else if len(cfg.CORSAllowedOrigins) > 0 {
			w.Header().Set("Access-Control-Allow-Origin", cfg.CORSAllowedOrigins[0])
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		mux.ServeHTTP(w, r)
	})

	// Chain middleware: request ID -> metrics -> JWT -> audit -> rate limit -> admin gate -> validation -> CORS.
	// JWT sits outside audit and rate limiting so both see the caller's
	// claims: audit records the real user id and the limiter buckets per
	// user instead of lumping everyone together.
	rootHandler := withRequestID(
		metrics.HTTPMetricsMiddleware(
			middleware.JWTMiddleware(tokenManager, log)(
				middleware.AuditMiddleware(auditLogger)(
					middleware.RateLimitMiddleware(rateLimiter, log)(
						middleware.AdminOnlyMiddleware(auditLogger)(
							middleware.ValidateJSONContentType(log)(
								middleware.RejectSuspiciousPaths(log)(handlerWithCORS),
							),
						),
					),
				),
			),
		),
		log,
	)

	// 9. Start overdue scanner in background
	overdueWorker := worker.NewOverdueWorker(loanRepo, auditLogger, log, cfg.OverdueScanInterval)
	go overdueWorker.Start(ctx)

	// 10. Start HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      otelhttp.NewHandler(rootHandler, "smartlib.http"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info("server starting",
		slog.Int("port", cfg.ServerPort),
		slog.String("auth", "jwt"),
		slog.Duration("lock_timeout", cfg.LockTimeout),
		slog.Int("max_loan_days", cfg.MaxLoanDays),
	)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.String("error", err.Error()))
		}
	}()

	<-sigChan
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", slog.String("error", err.Error()))
	}

	cancel() // Stop overdue worker
	rateLimiter.Stop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracing shutdown error", slog.String("error", err.Error()))
	}
	log.Info("server stopped")
}

type requestIDKey struct{}

// withRequestID attaches a request ID to the context and response headers for traceability
func withRequestID(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := generateRequestID()
		w.Header().Set("X-Request-ID", reqID)

		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		start := time.Now()

		next.ServeHTTP(w, r.WithContext(ctx))

		log.Info("request completed",
			slog.String("request_id", reqID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("duration_ms", time.Since(start)),
		)
	})
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return false
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

func generateRequestID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}
	return fmt.Sprintf("req-%d", time.Now().UnixNano())
}
