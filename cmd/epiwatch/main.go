package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/togo-health/epiwatch/internal/adapters/lab"
	"github.com/togo-health/epiwatch/internal/alert"
	"github.com/togo-health/epiwatch/internal/anomaly"
	"github.com/togo-health/epiwatch/internal/cluster"
	"github.com/togo-health/epiwatch/internal/diagnosis"
	"github.com/togo-health/epiwatch/internal/forecast"
	"github.com/togo-health/epiwatch/internal/ingest"
	"github.com/togo-health/epiwatch/internal/shared/auth"
	"github.com/togo-health/epiwatch/internal/shared/config"
	"github.com/togo-health/epiwatch/internal/shared/database"
	"github.com/togo-health/epiwatch/internal/shared/events"
	"github.com/togo-health/epiwatch/internal/shared/metrics"
	secmiddleware "github.com/togo-health/epiwatch/internal/shared/middleware"
	"github.com/togo-health/epiwatch/internal/tracing"
)

// App holds all application dependencies
type App struct {
	Config *config.Config
	DB     *database.DB
	Bus    *events.Bus
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	app := &App{Config: cfg}

	// Initialize database (optional - skip if not available)
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		fmt.Printf("Warning: Database not available: %v\n", err)
		fmt.Println("Running in limited mode without database...")
	} else {
		app.DB = db
		defer db.Close()

		if err := database.Migrate(ctx, db.Pool); err != nil {
			fmt.Printf("Warning: Migration failed: %v\n", err)
		}
	}

	// Initialize event bus with KurrentDB (optional - skip if not available)
	bus, err := events.NewBus(ctx, cfg.KurrentDB)
	if err != nil {
		fmt.Printf("Warning: KurrentDB not available: %v\n", err)
		fmt.Println("Alerts will be delivered through the console worker pool...")
	} else {
		app.Bus = bus
		defer bus.Close()
		fmt.Println("KurrentDB Event Bus initialized")
	}

	// Alert sink: the event bus when available, otherwise the in-process
	// delivery worker pool with a console provider.
	var sink alert.Sink
	if app.Bus != nil {
		sink = alert.NewBusSink(app.Bus)
	} else {
		delivery := alert.NewDeliveryService(
			alert.NewConsoleProvider("alert"), nil, alert.DefaultDeliveryConfig())
		if err := delivery.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to start delivery service: %v\n", err)
			os.Exit(1)
		}
		defer delivery.Stop()
		sink = delivery
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(secmiddleware.RateLimiter(100, 200))
	r.Use(metrics.Middleware)
	r.Use(corsMiddleware)

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler(app))
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())

	// API info
	r.Get("/", infoHandler)

	var engine *cluster.Engine
	var store diagnosis.Store

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Server.Env == "production" {
			r.Use(auth.Middleware(cfg.Auth))
		}

		if app.DB == nil {
			return
		}

		repo := diagnosis.NewRepository(app.DB.Pool)
		store = repo

		// Contact tracing module
		matcher := tracing.NewMatcher(store, cfg.Surveillance)
		builder := tracing.NewBuilder(store, matcher, cfg.Surveillance)
		estimator := tracing.NewEstimator(store, matcher, cfg.Surveillance)
		tracingService := tracing.NewService(store, matcher, builder, estimator)
		r.Mount("/tracing", tracing.NewHandler(tracingService).Routes())

		// Cluster detection module; state transitions are supervisor
		// operations in production.
		clusterStore := cluster.NewRepository(app.DB.Pool)
		engine = cluster.NewEngine(store, clusterStore, sink, cfg.Surveillance)
		clusterRoutes := cluster.NewHandler(engine, clusterStore).Routes()
		if cfg.Server.Env == "production" {
			r.With(auth.RequireRoles(auth.RoleSupervisor, auth.RoleAdmin)).Mount("/clusters", clusterRoutes)
		} else {
			r.Mount("/clusters", clusterRoutes)
		}

		// Anomaly detection module
		detector := anomaly.NewDetector(store, sink)
		r.Mount("/anomalies", anomaly.NewHandler(detector).Routes())

		// Trend forecasting module
		forecaster := forecast.NewForecaster(store)
		r.Mount("/forecasts", forecast.NewHandler(forecaster).Routes())
	})

	// Kafka ingest: new diagnosis events trigger cluster checks
	if cfg.Kafka.Enabled && engine != nil {
		consumer := ingest.NewConsumer(cfg.Kafka, engine)
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx); err != nil {
				log.Printf("ingest consumer stopped: %v", err)
			}
		}()
		fmt.Printf("Kafka ingest enabled (topic: %s)\n", cfg.Kafka.Topic)
	}

	// Lab adapter: confirmed hospital lab results feed the same checks
	if cfg.Lab.Enabled && engine != nil {
		labAdapter := lab.New(cfg.Lab)
		if err := labAdapter.Start(ctx); err != nil {
			fmt.Printf("Warning: Lab adapter not available: %v\n", err)
		} else {
			clusterEngine := engine
			labAdapter.Subscribe(ctx, func(event diagnosis.Event) {
				if _, err := clusterEngine.HandlePositiveEvent(ctx, event); err != nil {
					log.Printf("lab event cluster check: %v", err)
				}
			})
			defer func() {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer stopCancel()
				labAdapter.Stop(stopCtx)
			}()
			fmt.Println("Lab adapter started")
		}
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		fmt.Println("\nShutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Server shutdown error: %v\n", err)
		}
		close(done)
	}()

	fmt.Println("============================================")
	fmt.Println("EpiWatch Surveillance Core")
	fmt.Println("============================================")
	fmt.Printf("Environment:    %s\n", cfg.Server.Env)
	fmt.Printf("Server:         http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("API:            http://localhost:%d/api/v1\n", cfg.Server.Port)
	fmt.Printf("Health:         http://localhost:%d/health\n", cfg.Server.Port)
	fmt.Printf("KurrentDB:      %s:%d\n", cfg.KurrentDB.Host, cfg.KurrentDB.Port)
	fmt.Printf("Kafka ingest:   %v\n", cfg.Kafka.Enabled)
	fmt.Printf("Lab adapter:    %v\n", cfg.Lab.Enabled)
	fmt.Println("============================================")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}

	<-done
	fmt.Println("Server stopped")
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "EpiWatch Surveillance Core",
		"version": "0.1.0",
		"docs":    "/api/v1",
	})
}

func healthHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
		})
	}
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		if app.DB != nil {
			if err := app.DB.Health(r.Context()); err != nil {
				checks["database"] = "not ready: " + err.Error()
			} else {
				checks["database"] = "ready"
			}
		} else {
			checks["database"] = "not configured"
		}

		if app.Bus != nil {
			if err := app.Bus.Health(); err != nil {
				checks["kurrentdb"] = "not ready: " + err.Error()
			} else {
				checks["kurrentdb"] = "ready"
			}
		} else {
			checks["kurrentdb"] = "not configured"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
