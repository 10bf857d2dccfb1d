package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"oracle-service/internal/cache"
	"oracle-service/internal/config"
	"oracle-service/internal/database/minio"
	"oracle-service/internal/database/postgres"
	"oracle-service/internal/database/redis"
	"oracle-service/internal/event"
	"oracle-service/internal/handlers"
	"oracle-service/internal/repository"
	"oracle-service/internal/services"
	"oracle-service/internal/worker"

	"github.com/gofiber/fiber/v3"
	"github.com/jmoiron/sqlx"
	"golang.org/x/time/rate"
)

func setupLogging(logDir string) (*os.File, error) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("Recovered from panic: %v\n", r)
		}
	}()

	fmt.Println("Log directory:", logDir)
	err := os.MkdirAll(logDir, 0o755)
	if err != nil {
		return nil, fmt.Errorf("failed to create log directory: %v", err)
	}

	currentTime := time.Now()
	logFileName := fmt.Sprintf("log_%s.log", currentTime.Format("2006-01-02"))
	logFile := filepath.Join(logDir, logFileName)

	file, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %v", err)
	}

	log.SetOutput(file)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	return file, nil
}

func openStore(cfg *config.OracleServiceConfig) (repository.Store, func()) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		log.Printf("Using in-memory storage, data will not survive a restart")
		return repository.NewMemoryStore(), func() {}
	}

	db, err := postgres.ConnectAndCreateDB(cfg.PostgresCfg)
	if err != nil {
		log.Printf("error connect to database: %s", err)
		var retried *sqlx.DB
		postgres.RetryConnectOnFailed(30*time.Second, &retried, cfg.PostgresCfg)
		db = retried
	}
	return repository.NewPostgresStore(db), func() { db.Close() }
}

func main() {
	cfg := config.New()
	logFile, err := setupLogging(cfg.LogDir)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logFile.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore := openStore(cfg)
	defer closeStore()

	// Redis backs the cross-instance locks and the policy cache. Without it a
	// single instance still runs safely on local locks and an in-process cache.
	var locker services.Locker = services.NewLocalLocker()
	var policyCache services.PolicyCache = cache.NewMemoryCache(cfg.RedisCfg.PolicyTTL, 2*cfg.RedisCfg.PolicyTTL)
	redisClient, err := redis.NewRedisClient(cfg.RedisCfg.Host, cfg.RedisCfg.Port, cfg.RedisCfg.Password, cfg.RedisCfg.DB)
	if err != nil {
		log.Printf("Redis unavailable, falling back to local locks and in-process policy cache: %v", err)
	} else {
		defer redisClient.Close()
		locker = redis.NewLocker(redisClient.GetClient())
		policyCache = redis.NewCache(redisClient.GetClient(), "oracle:policy:", cfg.RedisCfg.PolicyTTL)
	}

	var archive services.EvidenceArchive
	var history handlers.AssessmentHistory
	minioClient, err := minio.NewMinioClient(cfg.MinioCfg)
	if err != nil {
		log.Printf("MinIO unavailable, assessment archiving disabled: %v", err)
	} else {
		archive = minioClient
		history = minioClient
	}

	rabbit, err := event.ConnectRabbitMQ(cfg.RabbitMQCfg)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer rabbit.Close()
	publisher := event.NewPayoutPublisher(rabbit.Channel)

	ext := cfg.ExternalCfg
	policyClient := services.NewPolicyClient(ext.PolicyServiceURL, ext.RequestTimeout, policyCache,
		rate.NewLimiter(rate.Limit(ext.RateLimit), ext.RateBurst))
	treasuryClient := services.NewTreasuryClient(ext.TreasuryServiceURL, ext.RequestTimeout,
		rate.NewLimiter(rate.Limit(ext.RateLimit), ext.RateBurst))

	registry := services.NewProviderRegistry(store, treasuryClient, cfg.RegistryCfg.MinStake)
	ledger := services.NewObservationLedger(store, registry)
	reports := services.NewOffchainReportService(store)
	source := services.NewChainSource(
		services.NewReportSource(store),
		services.NewLedgerSource(ledger, services.NewDamageEngine()),
	)
	settlement := services.NewSettlementWorkflow(store, policyClient, source, publisher, locker, archive,
		services.SettlementConfig{
			BatchWorkers:         cfg.SettlementCfg.BatchWorkers,
			StaleProcessingAfter: cfg.SettlementCfg.StaleProcessingAfter,
		})

	if err := event.NewSettlementConsumer(rabbit, settlement).Start(ctx); err != nil {
		log.Fatalf("Failed to start settlement consumer: %v", err)
	}
	if err := event.NewReportConsumer(rabbit, reports).Start(ctx); err != nil {
		log.Fatalf("Failed to start damage report consumer: %v", err)
	}

	var wg sync.WaitGroup
	sweepPool := worker.NewWorkingPool("settlement-sweep", 1, 4)
	sweepScheduler := worker.NewJobScheduler("stale-processing-sweep", cfg.SettlementCfg.SweepInterval, sweepPool)
	sweepScheduler.AddJob(settlement.SweepStaleProcessing)
	wg.Add(2)
	go sweepPool.Start(ctx, &wg)
	go sweepScheduler.Run(ctx, &wg)

	app := fiber.New()
	app.Get("/checkhealth", func(c fiber.Ctx) error {
		return c.Status(fiber.StatusOK).SendString("Oracle service is healthy")
	})
	app.Get("/oracle/public/api/v1/metrics/publisher", func(c fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(publisher.GetMetrics())
	})

	if cfg.JWTSecret == "" {
		log.Printf("JWT_SECRET is not set, every protected request will be rejected")
	}
	auth := handlers.NewAuth(cfg.JWTSecret)
	handlers.NewProviderHandler(registry, auth).Register(app)
	handlers.NewObservationHandler(ledger, auth).Register(app)
	handlers.NewPayoutHandler(settlement, history, auth).Register(app)
	handlers.NewReportHandler(reports, auth).Register(app)

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on port %s", cfg.Port)
		if err := app.Listen(fmt.Sprintf("0.0.0.0:%s", cfg.Port)); err != nil {
			log.Fatalf("Error starting server: %v", err)
		}
	}()

	<-shutdownChan
	log.Println("Shutting down server...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	cancel()
	wg.Wait()
	log.Println("Oracle service stopped")
}
