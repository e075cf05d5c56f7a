package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"roadmap/api/internal/app"
	"roadmap/api/internal/cache"
	"roadmap/api/internal/config"
	"roadmap/api/internal/search"
	"roadmap/api/internal/store"
)

func main() {
	rollback := flag.Int("rollback", 0, "revert the newest N migrations and exit")
	reindex := flag.Bool("reindex", false, "push every roadmap and item to Meilisearch on startup")
	flag.Parse()

	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolOptions{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if *rollback > 0 {
		reverted, err := store.RollbackMigrations(ctx, db, cfg.MigrationsDir, *rollback)
		for _, version := range reverted {
			log.Printf("reverted migration %s", version)
		}
		if err != nil {
			log.Fatalf("rollback failed: %v", err)
		}
		return
	}

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
		if *reindex {
			go searchService.ReindexAllFromPG(ctx)
		}
	}

	var detailsCache *cache.RedisCache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for roadmap details cache (ttl %s)", cfg.CacheTTL)
		detailsCache, err = cache.NewRedisCache(cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer detailsCache.Close()
	} else {
		log.Printf("Redis not configured, roadmap details are read from PostgreSQL")
	}

	service := app.New(cfg, dataStore, detailsCache, searchService)
	if cfg.APIToken == "" {
		log.Printf("WARNING: ROADMAP_API_TOKEN is empty, the API accepts unauthenticated requests")
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Roadmap API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
