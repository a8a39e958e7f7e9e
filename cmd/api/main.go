package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/Ajay6601/docuflow-ai/internal/ai"
	"github.com/Ajay6601/docuflow-ai/internal/api/handlers"
	"github.com/Ajay6601/docuflow-ai/internal/embedding"
	"github.com/Ajay6601/docuflow-ai/internal/events"
	"github.com/Ajay6601/docuflow-ai/internal/extraction"
	"github.com/Ajay6601/docuflow-ai/internal/metrics"
	"github.com/Ajay6601/docuflow-ai/internal/middleware/security"
	"github.com/Ajay6601/docuflow-ai/internal/objectstore"
	"github.com/Ajay6601/docuflow-ai/internal/ocr"
	"github.com/Ajay6601/docuflow-ai/internal/pipeline"
	"github.com/Ajay6601/docuflow-ai/internal/queue"
	"github.com/Ajay6601/docuflow-ai/internal/search"
	"github.com/Ajay6601/docuflow-ai/internal/storage/sqlite"
	"github.com/Ajay6601/docuflow-ai/internal/vector/milvus"
	"github.com/Ajay6601/docuflow-ai/pkg/config"
	appLogger "github.com/Ajay6601/docuflow-ai/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting DocuFlow API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	rdb, err := queue.Connect(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		appLogger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer rdb.Close()

	jobQueue := queue.New(rdb, cfg.LeaseDuration())

	blobStore, err := objectstore.NewClient(
		cfg.Minio.Endpoint,
		cfg.Minio.AccessKey,
		cfg.Minio.SecretKey,
		cfg.Minio.Bucket,
		cfg.Minio.UseSSL,
	)
	if err != nil {
		appLogger.Fatal("Failed to create object store client", zap.Error(err))
	}
	if err := blobStore.EnsureBucket(context.Background()); err != nil {
		appLogger.Fatal("Failed to ensure bucket", zap.Error(err))
	}

	milvusClient, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.CollectionName,
		cfg.Milvus.VectorDim,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	if err := milvusClient.EnsureCollection(context.Background()); err != nil {
		appLogger.Fatal("Failed to ensure collection", zap.Error(err))
	}

	aiClient := ai.NewClient(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.Model,
		cfg.OpenAI.Temperature,
		cfg.OpenAI.MaxTokens,
		time.Duration(cfg.OpenAI.TimeoutSec)*time.Second,
	)

	embedder := embedding.NewGenerator(cfg.OpenAI.APIKey, cfg.OpenAI.EmbeddingModel, cfg.Milvus.VectorDim)

	ocrClient := ocr.NewClient(cfg.OCR.Endpoint, time.Duration(cfg.OCR.TimeoutSec)*time.Second)
	dispatcher := extraction.NewDispatcher(ocrClient, cfg.Extraction.MinTextChars)

	index := search.NewIndex()
	if docs, err := sqliteClient.CompletedDocuments(context.Background()); err != nil {
		appLogger.Error("Failed to rebuild lexical index", zap.Error(err))
	} else {
		for _, doc := range docs {
			index.Add(doc)
		}
		metrics.IndexedDocuments.Set(float64(index.Size()))
		appLogger.Info("Lexical index rebuilt", zap.Int("documents", index.Size()))
	}

	hub := events.NewHub()
	relay := events.NewRelay(rdb, hub)

	searchEngine := search.NewEngine(index, embedder, milvusClient, sqliteClient, search.Config{
		LexicalWeight: cfg.Search.LexicalWeight,
		VectorWeight:  cfg.Search.VectorWeight,
		MaxPageSize:   cfg.Search.MaxPageSize,
		CandidatePool: cfg.Search.CandidatePool,
	})

	orchestrator := pipeline.NewOrchestrator(
		sqliteClient,
		blobStore,
		pipeline.NewRedisQueue(jobQueue),
		dispatcher,
		aiClient,
		embedder,
		milvusClient,
		index,
		relay,
		pipeline.Config{
			Workers:     cfg.Pipeline.Workers,
			MaxAttempts: cfg.Pipeline.MaxAttempts,
			BaseDelay:   time.Duration(cfg.Pipeline.BaseDelaySec) * time.Second,
			MaxDelay:    time.Duration(cfg.Pipeline.MaxDelaySec) * time.Second,
			JobTimeout:  cfg.JobTimeout(),
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go relay.Run(ctx)
	go jobQueue.RunMaintenance(ctx, 10*time.Second)
	go pollQueueDepth(ctx, jobQueue)
	orchestrator.Start(ctx)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	documentHandler := handlers.NewDocumentHandler(
		sqliteClient,
		blobStore,
		orchestrator,
		index,
		milvusClient,
		cfg.Upload.MaxFileSize,
		cfg.Upload.AllowedTypes,
	)
	searchHandler := handlers.NewSearchHandler(searchEngine)
	wsHandler := handlers.NewWebSocketHandler(hub)

	api := app.Group("/api/v1")

	api.Post("/documents", documentHandler.Upload)
	api.Get("/documents", documentHandler.List)
	api.Get("/documents/:id", documentHandler.Get)
	api.Get("/documents/:id/download", documentHandler.Download)
	api.Delete("/documents/:id", documentHandler.Delete)
	api.Post("/documents/:id/reprocess", documentHandler.Reprocess)

	api.Get("/search", searchHandler.Search)

	api.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws", websocket.New(wsHandler.HandleConnection))

	app.Get("/metrics", metrics.MetricsHandler())

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	cancel()
	orchestrator.Wait()
	appLogger.Info("Server stopped")
}

func pollQueueDepth(ctx context.Context, q *queue.Queue) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pending, inflight, err := q.Depth(ctx)
			if err != nil {
				continue
			}
			metrics.QueueDepth.WithLabelValues("pending").Set(float64(pending))
			metrics.QueueDepth.WithLabelValues("inflight").Set(float64(inflight))
		}
	}
}
