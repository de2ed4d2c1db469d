package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"scanner-bridge/batch"
	"scanner-bridge/config"
	"scanner-bridge/domain"
	"scanner-bridge/hub"
	"scanner-bridge/liveness"
	"scanner-bridge/logging"
	"scanner-bridge/protocol"
	"scanner-bridge/resolver"
	"scanner-bridge/sink"
	"scanner-bridge/telemetry"
	ws "scanner-bridge/websocket"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", logging.Err(err))
		os.Exit(1)
	}
	slog.SetDefault(logging.New(os.Stdout, cfg.Logger.Level, cfg.Logger.Format).With(
		slog.String("service", cfg.ServiceName),
	))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := telemetry.Init(ctx, cfg.ServiceName, cfg.Telemetry.Endpoint)
	if err != nil {
		slog.Error("telemetry init failed", logging.Err(err))
		os.Exit(1)
	}

	consumer, closeSinks := setupSinks(ctx, cfg)

	registry := hub.New()
	queue := batch.New(consumer,
		batch.WithDelay(cfg.Batch.Delay),
		batch.WithMaxPending(cfg.Batch.MaxPending),
	)

	var res domain.Resolver
	if cfg.Resolver.BaseURL != "" {
		res = resolver.NewHTTPResolver(cfg.Resolver.BaseURL, &http.Client{Timeout: cfg.Resolver.Timeout})
	} else {
		slog.Warn("RESOLVER_BASE_URL not set, mapping requests will be rejected")
	}
	handler := protocol.NewHandler(registry, queue, res, protocol.WithResolveTimeout(cfg.Resolver.Timeout))

	supervisor := liveness.New(registry, cfg.Liveness.ProbeInterval)
	go supervisor.Run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", ws.Endpoint(registry, handler))
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/stats", statsHandler(registry, queue))

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", logging.Err(err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	slog.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", logging.Err(err))
	}
	for _, conn := range registry.Connections() {
		conn.Terminate()
	}
	if err := queue.Close(shutdownCtx); err != nil {
		slog.Error("final batch flush failed", logging.Err(err))
	}
	closeSinks()
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Error("telemetry shutdown failed", logging.Err(err))
	}
}

// setupSinks always logs batches and additionally forwards them to Redis
// and MQTT when those are configured. An unreachable backend is logged and
// skipped so the relay still starts.
func setupSinks(ctx context.Context, cfg *config.Config) (domain.BatchConsumer, func()) {
	consumers := []domain.BatchConsumer{sink.Log{}}
	var closers []func()

	if cfg.Redis.URL != "" {
		rdb, err := sink.NewRedisClient(ctx, cfg.Redis.URL, cfg.Redis.PingTimeout)
		if err != nil {
			slog.Error("redis connection failed", "url", cfg.Redis.URL, logging.Err(err))
		} else {
			slog.Info("redis connected", "stream", cfg.Redis.Stream)
			consumers = append(consumers, sink.NewRedisStream(rdb, cfg.Redis.Stream))
			closers = append(closers, func() { rdb.Close() })
		}
	}

	if cfg.MQTT.Broker != "" {
		client, err := sink.ConnectMQTT(cfg.MQTT.Broker, cfg.ServiceName)
		if err != nil {
			slog.Error("mqtt connection failed", "broker", cfg.MQTT.Broker, logging.Err(err))
		} else {
			consumers = append(consumers, sink.NewMQTT(client, cfg.MQTT.Topic))
			closers = append(closers, func() { client.Disconnect(250) })
		}
	}

	return batch.Fanout(consumers...), func() {
		for _, c := range closers {
			c()
		}
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func statsHandler(registry *hub.Hub, queue *batch.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scanners, web, other := registry.Stats()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{
			"scanners": scanners,
			"web":      web,
			"other":    other,
			"pending":  queue.Pending(),
		})
	}
}
