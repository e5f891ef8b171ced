package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/satriahrh/cprlink/adapters/memory"
	mongoadapter "github.com/satriahrh/cprlink/adapters/mongo"
	"github.com/satriahrh/cprlink/adapters/push"
	redisadapter "github.com/satriahrh/cprlink/adapters/redis"
	"github.com/satriahrh/cprlink/domain/repositories"
	"github.com/satriahrh/cprlink/internal/api"
	"github.com/satriahrh/cprlink/internal/auth"
	"github.com/satriahrh/cprlink/internal/config"
	"github.com/satriahrh/cprlink/internal/logger"
	"github.com/satriahrh/cprlink/internal/websocket"
	"github.com/satriahrh/cprlink/usecase"
)

// how long the redis trigger ledger remembers a pairing's last push
const triggerLedgerTTL = 30 * 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "cprlink-server")
	if err != nil {
		panic("failed to build logger: " + err.Error())
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize adapters
	store, ledger, closeStore, err := newStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize document store", zap.String("backend", cfg.Store.Backend), zap.Error(err))
	}
	defer closeStore()

	sender, closeSender, err := newSender(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize push sender", zap.String("backend", cfg.Push.Backend), zap.Error(err))
	}
	defer closeSender()

	// Initialize usecase services
	dispatcher := usecase.NewPushDispatcher(sender, ledger, cfg.Push.QueueSize, log)
	documents := usecase.NewDocumentService(store, dispatcher, log)

	// Initialize WebSocket hub with the document service
	hub := websocket.NewHub(documents, log)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Initialize API routes
	api.InitRoutes(e, hub, documents, auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), log)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			log.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	log.Info("Server started",
		zap.String("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Backend),
		zap.String("push", cfg.Push.Backend))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Server is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	cancel()
	wg.Wait()

	log.Info("Server exited")
}

// newStore selects the document store backend and the matching trigger ledger
func newStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (repositories.DocumentStore, repositories.TriggerLedger, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreRedis:
		client := redisadapter.NewClient(cfg.Redis)
		if err := redisadapter.Ping(ctx, client); err != nil {
			client.Close()
			return nil, nil, nil, err
		}
		store := redisadapter.NewDocumentStore(client, cfg.Redis.KeyPrefix, log)
		ledger := redisadapter.NewTriggerLedger(client, cfg.Redis.KeyPrefix, triggerLedgerTTL)
		return store, ledger, func() {
			store.Close()
			client.Close()
		}, nil

	case config.StoreMongo:
		client, err := mongoadapter.NewClient(ctx, cfg.Mongo, log)
		if err != nil {
			return nil, nil, nil, err
		}
		store := mongoadapter.NewDocumentRepository(client.Database, cfg.Mongo.Collection, log)
		return store, memory.NewTriggerLedger(), func() {
			store.Close()
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Close(closeCtx); err != nil {
				log.Warn("Failed to close MongoDB client", zap.Error(err))
			}
		}, nil

	default:
		store := memory.NewDocumentStore()
		return store, memory.NewTriggerLedger(), store.Close, nil
	}
}

// newSender selects how emergency pushes leave the server
func newSender(cfg *config.Config, log *zap.Logger) (repositories.PushSender, func(), error) {
	switch cfg.Push.Backend {
	case config.PushFCM:
		return push.NewFCMSender(cfg.Push.FCM, log), func() {}, nil

	case config.PushMQTT:
		client, err := push.NewMQTTClient(cfg.Push.MQTT, log)
		if err != nil {
			return nil, nil, err
		}
		return push.NewMQTTSender(client, cfg.Push.MQTT.TopicPrefix), client.Disconnect, nil

	default:
		return push.NewLogSender(log), func() {}, nil
	}
}
