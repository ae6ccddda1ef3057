// Package main is the entry point for the simulated task backend.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jarvis-labs/operator-console/internal/config"
	"github.com/jarvis-labs/operator-console/internal/handler"
	"github.com/jarvis-labs/operator-console/internal/llm"
	"github.com/jarvis-labs/operator-console/internal/middleware"
	natsclient "github.com/jarvis-labs/operator-console/internal/nats"
	"github.com/jarvis-labs/operator-console/internal/service"
	"github.com/jarvis-labs/operator-console/pkg/logger"
	"github.com/jarvis-labs/operator-console/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting task backend")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "taskmockd", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", "error", err)
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	streamManager := natsclient.NewStreamManager(natsClient)
	if err := streamManager.EnsureStream(ctx); err != nil {
		log.Error("failed to ensure stream", "error", err)
		os.Exit(1)
	}

	// LLM client is optional; without one, agent runs use scripted text.
	var llmClient llm.Client
	switch {
	case cfg.DefaultLLM == "openai" && cfg.OpenAIAPIKey != "":
		llmClient, err = llm.NewOpenAIClient(cfg.OpenAIAPIKey)
		if err != nil {
			log.Warn("failed to create OpenAI client, runs use scripted text", "error", err)
		}
	case cfg.AnthropicAPIKey != "":
		llmClient, err = llm.NewAnthropicClient(cfg.AnthropicAPIKey)
		if err != nil {
			log.Warn("failed to create Anthropic client, runs use scripted text", "error", err)
		}
	case cfg.OpenAIAPIKey != "":
		llmClient, err = llm.NewOpenAIClient(cfg.OpenAIAPIKey)
		if err != nil {
			log.Warn("failed to create OpenAI client, runs use scripted text", "error", err)
		}
	}

	taskSvc := service.New(service.Options{
		Streams: streamManager,
		LLM:     llmClient,
		Logger:  log,
	})

	healthHandler := handler.NewHealthHandler(natsClient)
	authHandler := handler.NewAuthHandler(cfg.JWTSecret, cfg.JWTExpiration, log)
	taskHandler := handler.NewTaskHandler(taskSvc, log)
	streamHandler := handler.NewStreamHandler(taskSvc, streamManager, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Development token endpoint
	r.Post("/auth/token", authHandler.MintToken)

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		write := middleware.RequireScope("tasks:write")
		read := middleware.RequireScope("tasks:read")

		r.Route("/tasks", func(r chi.Router) {
			r.With(write).Post("/", taskHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.With(read).Get("/", taskHandler.Get)
				r.With(write).Post("/run", taskHandler.Run)
				r.With(read).Get("/events", taskHandler.Events)
				r.With(write).Post("/review", taskHandler.Review)
				r.With(write).Post("/hitl", taskHandler.HITL)
				r.With(write).Post("/archive", taskHandler.Archive)
				r.With(read).Get("/stream", streamHandler.Stream)
			})
		})

		r.Route("/users/{id}", func(r chi.Router) {
			r.With(read).Get("/tasks", taskHandler.List)
			r.With(read).Get("/stats", taskHandler.Stats)
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}
