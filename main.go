package main

import (
	"crypto/rand"
	"log"

	"github.com/go-resty/resty/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"go.uber.org/zap"

	"bankverify-backend/appstore"
	"bankverify-backend/blobstore"
	"bankverify-backend/config"
	"bankverify-backend/controllers"
	"bankverify-backend/database"
	"bankverify-backend/middlewares"
	"bankverify-backend/routes"
	"bankverify-backend/verification"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	// ---- Storage
	database.Connect()
	if err := database.Migrate(); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
	rdb := database.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	repo := verification.NewRepository(database.DB)
	blobs := blobstore.NewFileStore(cfg.BlobRoot)

	// ---- Collaborators
	apps := appstore.NewClient(cfg.AppStoreURL, cfg.AppStoreTimeout)

	// ---- Verification core
	clock := verification.SystemClock()
	processor := verification.NewCallbackProcessor(repo, apps, apps, apps, verification.StatusConfig{
		EvidenceAccepted: cfg.StatusAccepted,
		EvidenceRejected: cfg.StatusRejected,
		AcceptReason:     cfg.AcceptReason,
	}, logger)

	deps := verification.ClientDeps{
		Repo:      repo,
		Processor: processor,
		Apps:      apps,
		Clock:     clock,
		WatchList: cfg.FraudWatchList,
		Retry: verification.RetryPolicy{
			AllowedStatuses:      cfg.RetryStatuses,
			DisqualifyingReasons: cfg.DisqualifyingReasons,
		},
		Log: logger,
	}

	keyPEM, err := cfg.PowerCredKey()
	if err != nil {
		logger.Fatal("signing key unavailable", zap.Error(err))
	}
	signer, err := verification.NewSigningEngine(keyPEM, clock, rand.Reader)
	if err != nil {
		logger.Fatal("signing engine init failed", zap.Error(err))
	}

	vendorHTTP := resty.New().SetTimeout(cfg.VendorTimeout)
	archive := verification.NewArchivePipeline(vendorHTTP, blobs, cfg.BlobBucket, cfg.ScratchRoot, logger)

	powercred := verification.NewPowerCredClient(verification.PowerCredConfig{
		Host:            cfg.PowerCredHost,
		ClientID:        cfg.PowerCredClientID,
		SessionValidity: cfg.PowerCredValidity,
	}, signer, vendorHTTP, deps)

	perfios := verification.NewPerfiosClient(verification.PerfiosConfig{
		Host:            cfg.PerfiosHost,
		APIKey:          cfg.PerfiosAPIKey,
		SessionValidity: cfg.PerfiosValidity,
		ClickWindow:     cfg.PerfiosClickWindow,
	}, vendorHTTP, archive, deps)

	splitter := verification.NewTrafficSplitter(
		repo,
		verification.NewRedisCounter(rdb, cfg.SplitCounterTTL),
		cfg.SplitCounterKey,
		verification.NewRedisSplitConfigSource(rdb, cfg.SplitConfigKey),
		verification.Vendor(cfg.PrimaryVendor),
		verification.Vendor(cfg.SecondaryVendor),
		logger,
	)

	orchestrator := verification.NewOrchestrator(repo, splitter, []verification.Client{powercred, perfios}, logger)
	controller := controllers.NewVerificationController(orchestrator, logger)

	// ---- Fiber app with global error handler + body limit
	app := fiber.New(fiber.Config{
		ErrorHandler: middlewares.NewErrorHandler(logger),
		BodyLimit:    cfg.BodyLimitBytes,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowCredentials: false,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitMax,
		Expiration: cfg.RateLimitWin,
	}))

	routes.Register(app, controller)

	logger.Info("starting bank verification service", zap.String("port", cfg.Port))
	if err := app.Listen(":" + cfg.Port); err != nil {
		logger.Fatal("listen failed", zap.Error(err))
	}
}
