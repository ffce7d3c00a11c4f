package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"marginalia/api/internal/app"
	"marginalia/api/internal/config"
	"marginalia/api/internal/realtime"
	"marginalia/api/internal/search"
	"marginalia/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	focus, err := config.LoadFocus(cfg.FocusConfigPath)
	if err != nil {
		log.Fatalf("focus config: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}

	// The local fallback reads the service's own snapshot, so it is wired
	// after construction.
	var service *app.Service
	searchService := search.NewService(meiliClient, search.NewLocal(func() []store.Annotation {
		return service.Snapshot()
	}))
	service = app.New(cfg, dataStore, searchService, focus)
	defer service.Close()

	var sources []realtime.Source
	if strings.TrimSpace(cfg.StreamURL) != "" {
		sources = append(sources, realtime.NewWebSocketSource(cfg.StreamURL))
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisSource, err := realtime.NewRedisSource(cfg.RedisURL, cfg.RealtimeChannel)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisSource.Close()
		service.SetPublisher(redisSource)
		sources = append(sources, redisSource)
	}

	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (load a group to retry): %v", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, cfg.TokenSecret)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("Marginalia API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	for _, source := range sources {
		g.Go(func() error {
			// A failed push channel is logged, not fatal: the sidebar keeps
			// serving the collection it has.
			if err := source.Run(gCtx, service.ReceiveMessage); err != nil {
				log.Printf("realtime: source stopped: %v", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("server failed: %v", err)
	}
}
