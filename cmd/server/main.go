package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/storage/redis/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"addrbook/internal/auth"
	"addrbook/internal/config"
	"addrbook/internal/database"
	"addrbook/internal/handlers"
	"addrbook/internal/logging"
	"addrbook/internal/mail"
	"addrbook/internal/middleware"
	"addrbook/internal/platform/entry"
	"addrbook/internal/platform/storage"
	puser "addrbook/internal/platform/user"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	out, err := logging.Setup(cfg)
	if err != nil {
		log.Fatal(err)
	}

	var (
		entryRepo entry.Repository
		userRepo  puser.Repository
	)

	if cfg.DatabaseURL == config.MemoryDatabase {
		log.Warn("DATABASE_URL is memory, data will not survive a restart")
		entryRepo = entry.NewMemoryRepository()
		userRepo = puser.NewMemoryRepository()
	} else {
		db, err := database.Connect(cfg)
		if err != nil {
			log.Fatal(err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err = database.Migrate(ctx, db)
		cancel()
		if err != nil {
			log.Fatal(err)
		}

		entryRepo = entry.NewRepository(db)
		userRepo = puser.NewRepository(db)
	}

	var blobs storage.Blobs
	if cfg.S3Bucket == "" {
		log.Warn("S3_BUCKET is not set, pictures are kept in memory")
		blobs = storage.NewMemoryBlobs()
	} else {
		blobs = storage.NewS3Blobs(cfg.Storage(), cfg.S3Bucket, cfg.S3Endpoint, cfg.S3PublicURL)
	}

	mailer, err := mail.NewMailer(cfg)
	if err != nil {
		log.Fatal(err)
	}

	sessionConfig := session.Config{
		Expiration:     24 * time.Hour,
		CookieHTTPOnly: true,
		CookieSameSite: "Lax",
	}
	if cfg.RedisURL != "" {
		sessionConfig.Storage = redis.New(redis.Config{URL: cfg.RedisURL})
	}

	tokens := auth.NewTokenGenerator(cfg.SecretKey, cfg.TokenTimeoutDays)

	services := middleware.Services{
		Config:  cfg,
		Entries: entry.NewService(entryRepo, blobs),
		Users:   puser.NewService(userRepo, mailer, tokens, cfg.Sender()),
		Store:   session.New(sessionConfig),
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler,
		BodyLimit:    storage.MaxPictureSize + 1<<20,
	})

	app.Use(compress.New())
	app.Use(helmet.New())
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New(logger.Config{Output: out}))
	app.Use(healthcheck.New())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Use(middleware.Inject(services))

	handlers.SetupRoutes(app)

	log.Fatal(app.Listen(fmt.Sprintf(":%d", cfg.ServerPort)))
}
