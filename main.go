// Command bizdir-relay is the real-time chat relay for the business
// directory: it registers websocket connections by user id, persists and
// delivers private messages, and serves thread history.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/pliu/bizdir/internal/auth"
	"github.com/pliu/bizdir/internal/config"
	"github.com/pliu/bizdir/internal/handlers"
	"github.com/pliu/bizdir/internal/logging"
	"github.com/pliu/bizdir/internal/middleware"
	"github.com/pliu/bizdir/internal/retention"
	"github.com/pliu/bizdir/internal/store/sqlstore"
	"github.com/pliu/bizdir/internal/ws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var envFile = flag.String("env", ".env", "optional dotenv file")

func main() {
	flag.Parse()
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("reading env file failed", logging.Err(err))
	}
	cfg := config.LoadRelay()
	log := logging.New("bizdir-relay", cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	if cfg.JWTSecret == "" {
		log.Error("RELAY_JWT_SECRET is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlstore.New(cfg.DBDriver, cfg.DBSource)
	if err != nil {
		log.Error("opening database failed", slog.String("driver", cfg.DBDriver), logging.Err(err))
		os.Exit(1)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []ws.HubOption{
		ws.WithLogger(log),
		ws.WithMetrics(ws.NewMetrics(reg)),
		ws.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	}
	if cfg.Redis.URL != "" {
		broker, err := ws.NewRedisBroker(cfg.Redis.URL, cfg.Redis.Channel)
		if err != nil {
			log.Error("invalid redis url", logging.Err(err))
			os.Exit(1)
		}
		if err := broker.Ping(ctx); err != nil {
			log.Error("connecting to redis failed", logging.Err(err))
			os.Exit(1)
		}
		defer broker.Close()
		opts = append(opts, ws.WithBroker(broker))
		log.Info("fanning out through redis", slog.String("channel", cfg.Redis.Channel))
	}

	// Initialize WebSocket Hub
	hub := ws.NewHub(store, opts...)
	go hub.Run(ctx)

	if cfg.Retention.Enabled {
		job, err := retention.New(store, cfg.Retention.Cron, cfg.Retention.MaxAge, log)
		if err != nil {
			log.Error("invalid retention settings", logging.Err(err))
			os.Exit(1)
		}
		go func() {
			if err := job.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("retention stopped", logging.Err(err))
			}
		}()
	}

	signer := auth.NewSigner(cfg.JWTSecret, 0)
	chatHandler := &handlers.ChatHandler{Store: store}

	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware)

	// History Endpoints
	api := r.PathPrefix("/chat").Subrouter()
	api.Use(middleware.Bearer(signer))
	api.HandleFunc("/business/{businessId}/{receiverId}", chatHandler.GetThread).Methods("GET")
	api.HandleFunc("/business/{businessId}", chatHandler.GetChatHeads).Methods("GET")

	// WebSocket Endpoint
	r.Handle("/socket", middleware.SocketBearer(signer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, w, r)
	})))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET")

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("starting relay", slog.String("addr", cfg.Addr), slog.String("driver", cfg.DBDriver))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server failed", logging.Err(err))
		os.Exit(1)
	}
}
