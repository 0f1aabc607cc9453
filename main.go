package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wager-ledger/config"
	"wager-ledger/handlers"
	"wager-ledger/middleware"
	"wager-ledger/services"
	"wager-ledger/shard"
	"wager-ledger/utils"
	"wager-ledger/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration: ", err)
	}
	if cfg.ServiceToken == "" {
		log.Fatal("❌ GAME_SERVICE_TOKEN is not set — service cannot authenticate Gateway")
	}

	dbs, err := shard.Open(cfg.DBDriver, cfg.ShardDSNs)
	if err != nil {
		log.Fatal(err)
	}
	router, err := shard.New(dbs, cfg.HashStrategy)
	if err != nil {
		log.Fatal(err)
	}
	registryDB, err := shard.OpenDB(cfg.DBDriver, cfg.RegistryDSN)
	if err != nil {
		log.Fatal("failed to connect to registry database: ", err)
	}

	accounts := services.NewAccountStore(router)
	intents := services.NewIntentLog(registryDB)
	registry := services.NewMatchRegistry(registryDB, intents)
	if err := accounts.Migrate(); err != nil {
		log.Fatal("failed to migrate shards: ", err)
	}
	if err := registry.Migrate(); err != nil {
		log.Fatal("failed to migrate registry: ", err)
	}

	escrow, err := services.NewEscrowService(accounts, registry, intents, services.EscrowConfig{
		Caps:            services.Caps{MaxMembers: cfg.MaxMembers, MaxPot: cfg.MaxPot},
		RemainderPolicy: cfg.RemainderPolicy,
		HouseAccountID:  cfg.HouseAccountID,
		SafeZone:        services.DefaultSafeZonePolicy,
	})
	if err != nil {
		log.Fatal(err)
	}
	wheel := services.NewWheelService(accounts, registryDB, cfg.WheelSeed)
	reconciler := services.NewReconciler(escrow, cfg.ReconcileGrace)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var archiver services.Archiver
	if cfg.ArchiveEnabled() {
		store, err := utils.NewR2Store(ctx, utils.R2Options{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			AccessKeySecret: cfg.R2AccessKeySecret,
			Bucket:          cfg.R2Bucket,
		})
		if err != nil {
			log.Fatal("failed to initialize R2 client: ", err)
		}
		archiver = workers.NewAuditArchiveWorker(router, registryDB, store)
	} else {
		log.Println("⚠️  R2 not configured, wheel draw archiving disabled")
	}

	sched, err := services.StartScheduler(ctx, reconciler, cfg.ReconcileInterval, archiver, cfg.AuditArchiveInterval)
	if err != nil {
		log.Fatal(err)
	}

	app := fiber.New()

	// 🔐❗ GLOBAL: Only Gateway requests allowed
	app.Use(middleware.GatewayAuthMiddleware(cfg.ServiceToken))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Origins(),
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, X-User-Roles",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	handlers.SetupLedgerRoutes(app, &handlers.LedgerHandler{
		Escrow:     escrow,
		Accounts:   accounts,
		Wheel:      wheel,
		Reconciler: reconciler,
	})

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", cfg.Port)
	log.Printf("✅ %d shard(s), hash strategy %s, remainder policy %s", router.Count(), router.Strategy(), cfg.RemainderPolicy)
	log.Printf("✅ CORS configured for origins: %s", cfg.Origins())

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := sched.Shutdown(); err != nil {
		log.Printf("⚠️ Scheduler shutdown: %v", err)
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("⚠️ Server shutdown: %v", err)
	}
}
