package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/joho/godotenv"

	"invenpos/backend/internal/cache"
	"invenpos/backend/internal/config"
	"invenpos/backend/internal/httpapi"
	"invenpos/backend/internal/service"
	"invenpos/backend/internal/store"
	"invenpos/backend/internal/store/memory"
	pgstore "invenpos/backend/internal/store/postgres"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("could not load .env: %v", err)
	}

	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	reports := cache.ReportCache(cache.NoopReportCache{})
	keyed := cache.KeyedStore(cache.NewMemoryKeyedStore())
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), falling back to in-process cache", err)
		} else {
			reports = redisCache
			keyed = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("cache: redis")
		}
	} else {
		log.Println("cache: in-process")
	}

	svc := service.New(repo, reports, time.Duration(cfg.AnalyticsTTLSeconds)*time.Second)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.LoginAttemptLimit, repo, keyed)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	scheduler := startSweepScheduler(svc, cfg.SweepHour)
	defer scheduler.Stop()

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

// startSweepScheduler runs the low-stock and subscription sweeps once a day
// at the configured wall-clock time.
func startSweepScheduler(svc *service.Service, at string) *gocron.Scheduler {
	scheduler := gocron.NewScheduler(time.UTC)
	_, err := scheduler.Every(1).Day().At(at).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		lowStock, err := svc.RunLowStockSweep(ctx)
		if err != nil {
			log.Printf("[sweep] low stock sweep failed: %v", err)
		}
		expiring, err := svc.RunSubscriptionSweep(ctx)
		if err != nil {
			log.Printf("[sweep] subscription sweep failed: %v", err)
		}
		log.Printf("[sweep] done: lowStock=%d subscription=%d", lowStock, expiring)
	})
	if err != nil {
		log.Fatalf("scheduling sweeps at %q: %v", at, err)
	}
	scheduler.StartAsync()
	return scheduler
}

func validateSecurityConfig(cfg config.Config) error {
	if cfg.AuthSecret == "" {
		if cfg.DatabaseURL != "" {
			return fmt.Errorf("AUTH_SECRET must be set when running against a database")
		}
		log.Println("WARNING: AUTH_SECRET is unset, using the built-in dev secret")
		return nil
	}
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be at least 32 characters")
	}
	return nil
}
