package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/yoockh/deepfake-detector/config"
	"github.com/yoockh/deepfake-detector/internal/api/handlers"
	"github.com/yoockh/deepfake-detector/internal/api/middleware"
	"github.com/yoockh/deepfake-detector/internal/api/routes"
	"github.com/yoockh/deepfake-detector/internal/cache"
	"github.com/yoockh/deepfake-detector/internal/logger"
	"github.com/yoockh/deepfake-detector/internal/providers/inference"
	mongorepo "github.com/yoockh/deepfake-detector/internal/repositories/mongo"
	"github.com/yoockh/deepfake-detector/internal/services"
	"github.com/yoockh/deepfake-detector/internal/state"
	"github.com/yoockh/deepfake-detector/internal/storage"
	"github.com/yoockh/deepfake-detector/internal/workers"
)

const version = "1.0.0"

func main() {
	_ = godotenv.Load()

	s := config.Load()
	log := logger.New(s.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Init Redis
	conn, err := config.InitRedis(ctx, s, log)
	if err != nil {
		log.WithError(err).Fatal("redis init failed")
	}

	// Init MongoDB (optional: history is unavailable without it)
	var (
		mongoClient *mongo.Client
		repo        mongorepo.AnalysisRepository
	)
	optional := map[string]services.PingFunc{}
	if s.MongoURI != "" {
		mongoClient, err = config.InitMongo(ctx, s)
		if err != nil {
			log.WithError(err).Warn("mongodb unavailable, analysis history disabled")
		} else {
			db := mongoClient.Database(s.MongoDB)
			if err := config.EnsureMongoIndexes(ctx, db); err != nil {
				log.WithError(err).Warn("mongodb index setup failed")
			}
			repo = mongorepo.NewAnalysisRepo(db)
			optional["mongodb"] = func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) }
			log.Info("mongodb connected")
		}
	}

	// Init GCS (optional)
	var archive storage.Uploader
	var gcs *storage.GCSUploader
	if s.GCSBucket != "" {
		gcs, err = storage.NewGCSUploader(ctx, s.GCSBucket)
		if err != nil {
			log.WithError(err).Warn("gcs unavailable, uploads will not be archived")
		} else {
			archive = gcs
		}
	}

	// Stores
	sessions := state.NewSessionStore(conn, state.SessionTTL)
	uploads := state.NewUploadStore(conn, state.UploadTTL)
	queue := state.NewQueue(conn)
	metricsStore := state.NewMetricsStore(conn)
	frames := cache.NewRedisCache(conn)

	// Providers
	detector := inference.NewAIClient(s.AIServiceURL, s.InferenceTimeout, log)
	forensics := inference.NewForensicClient(s.ForensicServiceURL, s.InferenceTimeout, log)

	// Services
	progress := services.NewProgressService(conn, sessions, log)
	analyses, err := services.NewAnalysisService(services.AnalysisDeps{
		Detector:       detector,
		Forensics:      forensics,
		Progress:       progress,
		Uploads:        uploads,
		Queue:          queue,
		Cache:          frames,
		Repo:           repo,
		Archive:        archive,
		Logger:         log,
		MaxUploadBytes: s.MaxUploadBytes,
	})
	if err != nil {
		log.WithError(err).Fatal("analysis service init failed")
	}
	health := services.NewHealthService(conn, queue, optional)

	// Handlers
	wsHandler := handlers.NewWSHandler(progress, log, s.FrontendURL)

	// Workers
	stats := &workers.FrameStats{}
	pool := &workers.FrameWorkerPool{
		Queue:      queue,
		Cache:      frames,
		Forensics:  forensics,
		Analyses:   analyses,
		Stats:      stats,
		NumWorkers: s.FrameWorkers,
		MaxRetries: s.FrameMaxRetries,
		Logger:     log,
	}
	if err := pool.Start(ctx); err != nil {
		log.WithError(err).Fatal("frame workers failed to start")
	}
	collector := &workers.MetricsCollector{
		Store:       metricsStore,
		Queue:       queue,
		Conn:        conn,
		Stats:       stats,
		Connections: wsHandler,
		Interval:    s.MetricsInterval,
		Logger:      log,
	}
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		if err := collector.Run(ctx); err != nil {
			log.WithError(err).Error("metrics collector stopped")
		}
	}()

	// Start Gin server
	if s.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))
	routes.RegisterRoutes(r, routes.Deps{
		Analysis: handlers.NewAnalysisHandler(analyses, progress, s.MaxUploadBytes),
		Metrics:  handlers.NewMetricsHandler(metricsStore),
		Queue:    handlers.NewQueueHandler(queue),
		Health:   handlers.NewHealthHandler(health, version),
		WS:       wsHandler,
		Auth:     middleware.AuthConfig{Secret: s.AuthJWTSecret},
	})

	srv := &http.Server{
		Addr: ":" + s.Port,
		Handler: middleware.Edge(r, middleware.EdgeConfig{
			AllowedOrigins: []string{s.FrontendURL},
			RatePerMinute:  s.RateLimit,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{"port": s.Port, "version": version}).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown incomplete")
	}
	pool.Wait()
	<-collectorDone

	if mongoClient != nil {
		if err := mongoClient.Disconnect(shutdownCtx); err != nil {
			log.WithError(err).Warn("mongodb disconnect failed")
		}
	}
	if gcs != nil {
		_ = gcs.Close()
	}
	if err := conn.Disconnect(); err != nil {
		log.WithError(err).Warn("redis disconnect failed")
	}
	log.Info("bye")
}
