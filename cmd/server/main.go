package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"soundcrate/internal/auth"
	"soundcrate/internal/blob"
	"soundcrate/internal/config"
	"soundcrate/internal/handlers"
	"soundcrate/internal/jobs"
	"soundcrate/internal/ratelimit"
	"soundcrate/internal/storage"
	"soundcrate/internal/version"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	// .envファイルを読み込み（存在しない場合はスキップ）
	_ = godotenv.Load()

	cfg := config.Load()

	// ストレージ初期化
	db, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	blobs, err := blob.NewStore(cfg.BlobDir)
	if err != nil {
		log.Fatalf("failed to init blob store: %v", err)
	}

	jobRepo := storage.NewJobRepository(db)
	bucketRepo := storage.NewBucketRepository(db)
	limiter := ratelimit.NewLimiter(bucketRepo)

	svc := jobs.NewService(jobRepo, bucketRepo, blobs, limiter)
	svc.SetLimits(cfg.MaxActiveJobs, cfg.GuestLimit)

	// 定期掃除
	go runSweeper(svc, cfg.SweepInterval)

	// Echoインスタンスの作成
	e := echo.New()

	// ミドルウェアの設定
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// ルートの登録
	jobHandler := handlers.NewJobHandler(svc, verifierFromEnv())
	adminHandler := handlers.NewAdminHandler(svc, cfg.AdminToken)

	e.POST("/api/downloads", jobHandler.Create)
	e.GET("/api/downloads", jobHandler.List)
	e.GET("/api/downloads/:id", jobHandler.Get)
	e.POST("/api/downloads/:id/cancel", jobHandler.Cancel)
	e.DELETE("/api/downloads/:id", jobHandler.Delete)
	e.GET("/api/limits", jobHandler.Limits)
	e.POST("/api/admin/cleanup", adminHandler.Cleanup)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{
			"status":  "ok",
			"version": version.Version,
		})
	})

	// サーバー起動
	log.Printf("Starting soundcrate v%s on port %s", version.Version, cfg.Port)
	if err := e.Start(fmt.Sprintf(":%s", cfg.Port)); err != nil {
		log.Fatal(err)
	}
}

// verifierFromEnv wires the external identity service, or denies all
// bearer tokens when none is configured (guest access still works).
func verifierFromEnv() auth.Verifier {
	if endpoint := os.Getenv("AUTH_VERIFY_URL"); endpoint != "" {
		return auth.NewHTTPVerifier(endpoint)
	}
	return auth.DenyAllVerifier{}
}

// runSweeper triggers the cleanup sweep on a fixed interval. The sweep is
// idempotent, so overlap with the admin endpoint or another instance is fine.
func runSweeper(svc *jobs.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if _, err := svc.RunCleanupSweep(ctx); err != nil {
			log.Printf("scheduled sweep failed: %v", err)
		}
		cancel()
	}
}
