package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gobwas/ws"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Jrooker06/ORB-Scanner-Sockets-live/cmd/relay/internal/api"
	"github.com/Jrooker06/ORB-Scanner-Sockets-live/cmd/relay/internal/cache"
	"github.com/Jrooker06/ORB-Scanner-Sockets-live/cmd/relay/internal/calendar"
	"github.com/Jrooker06/ORB-Scanner-Sockets-live/cmd/relay/internal/firehose"
	"github.com/Jrooker06/ORB-Scanner-Sockets-live/cmd/relay/internal/gainers"
	"github.com/Jrooker06/ORB-Scanner-Sockets-live/cmd/relay/internal/hub"
	"github.com/Jrooker06/ORB-Scanner-Sockets-live/cmd/relay/internal/polygon"
	"github.com/Jrooker06/ORB-Scanner-Sockets-live/cmd/relay/internal/refstore"
	"github.com/Jrooker06/ORB-Scanner-Sockets-live/cmd/relay/internal/relay"
	"github.com/Jrooker06/ORB-Scanner-Sockets-live/cmd/relay/internal/upstream"
	"github.com/Jrooker06/ORB-Scanner-Sockets-live/pkg/config"
	"github.com/Jrooker06/ORB-Scanner-Sockets-live/pkg/models"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := config.NewLogger(cfg.Logger, cfg.App.Env)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	if cfg.Upstream.APIKey == "" {
		logger.Fatal("UPSTREAM_API_KEY is required")
	}

	market := polygon.NewClient(cfg.Upstream.APIBase, cfg.Upstream.APIKey,
		cfg.Upstream.RequestTimeout, logger)
	walker := calendar.NewWalker(market, logger)
	refCache := cache.New[string, *models.Reference](cfg.Cache.Capacity, cfg.Cache.DefaultTTL)

	var refStore refstore.Store
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		refStore = refstore.NewRedisStore(rdb, cfg.Gainers.EnrichTTL)
		defer refStore.Close()
	}

	aggregator := gainers.NewAggregator(market, walker, market, refCache, refStore,
		gainers.Options{
			MaxResults:    cfg.Gainers.MaxResults,
			MaxWalkBack:   cfg.Gainers.MaxWalkBack,
			EnrichWorkers: cfg.Gainers.EnrichWorkers,
			EnrichTTL:     cfg.Gainers.EnrichTTL,
		}, logger)

	var mirror hub.Mirror
	if cfg.Kafka.Enabled {
		pub := firehose.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer pub.Close()
		mirror = pub
	}

	manager := upstream.NewManager(
		upstream.NewDialer(cfg.Upstream.WSURL, cfg.Upstream.DialTimeout),
		cfg.Upstream.APIKey, cfg.Upstream.ReconnectDelay, logger)

	wsHub := hub.NewHub(manager, cfg.Upstream.APIKey, mirror, logger)

	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	go wsHub.Run(dispatchCtx, manager.Frames())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		client := relay.NewClient(conn, wsHub, logger)
		wsHub.Attach(client)
		client.Start()
	})
	api.NewHandler(aggregator, market, logger).Register(mux)

	srv := &http.Server{Addr: cfg.App.Port, Handler: mux}

	go func() {
		logger.Info("Relay started", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("Shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	manager.Shutdown()
	stopDispatch()
	logger.Info("Shutdown Complete")
}
