package main

import (
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cheth/backend/internal/api"
	"github.com/cheth/backend/internal/chain"
	"github.com/cheth/backend/internal/chesshost"
	"github.com/cheth/backend/internal/config"
	"github.com/cheth/backend/internal/database"
	"github.com/cheth/backend/internal/escrow"
	"github.com/cheth/backend/internal/migrations"
	"github.com/cheth/backend/internal/redis"
	"github.com/cheth/backend/internal/store"
	"github.com/cheth/backend/internal/ws"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations on start if requested
	if os.Getenv("MIGRATE_ON_START") == "true" {
		log.Println("↗ Running DB migrations on startup...")
		if err := migrations.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	// Initialize Redis
	rdb, err := redis.Connect(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()

	st := store.New(db)

	// On-chain escrow client
	if cfg.ContractAddress == "" || cfg.OperatorAddress == "" {
		log.Fatalf("CONTRACT_ADDRESS and OPERATOR_ADDRESS must be set")
	}
	chainClient := chain.NewClient(cfg)
	log.Printf("[CHAIN] Escrow client initialized (rpc=%s contract=%s)", cfg.ChainRPCURL, cfg.ContractAddress)

	// External chess host client
	hostClient := chesshost.NewClient(cfg, rdb)
	log.Printf("[LICHESS] Client initialized (base=%s clock=%ds)", cfg.LichessBaseURL, cfg.ClockLimitSeconds)

	// Result delivery: live stream by default, PGN polling as fallback
	var source escrow.ResultSource
	switch cfg.ResultDelivery {
	case "poll":
		source = &escrow.PollSource{
			Host:     hostClient,
			Interval: time.Duration(cfg.ResultPollSeconds) * time.Second,
		}
		log.Printf("[MONITOR] Result delivery: poll every %ds", cfg.ResultPollSeconds)
	default:
		source = &escrow.StreamSource{Host: hostClient}
		log.Printf("[MONITOR] Result delivery: stream")
	}

	registry := escrow.NewRegistry()
	broadcaster := escrow.NewBroadcaster(registry, rdb)
	retry := escrow.NewRetryEngine(cfg.StreamMaxAttempts, time.Duration(cfg.StreamRetryDelayMs)*time.Millisecond)
	snapshots := escrow.NewSnapshotStore(rdb)

	orch := escrow.NewOrchestrator(registry, chainClient, hostClient, st, broadcaster, source, retry, snapshots)
	wsHandler := ws.NewHandler(orch)

	// Set up Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	api.SetupRoutes(router, st, orch, hostClient, wsHandler, cfg)

	// Start server
	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	log.Printf("Starting Cheth server on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
