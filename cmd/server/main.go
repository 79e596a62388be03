package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sahajpatel123/cognitivesystem-sub001/internal/api"
	"github.com/sahajpatel123/cognitivesystem-sub001/internal/config"
	"github.com/sahajpatel123/cognitivesystem-sub001/internal/database"
	"github.com/sahajpatel123/cognitivesystem-sub001/internal/observability"
	"github.com/sahajpatel123/cognitivesystem-sub001/internal/runtime"
)

func main() {
	_ = godotenv.Load()
	logger := log.New(log.Writer(), "[SERVER] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("configuration invalid: %v", err)
	}

	deps := runtime.Deps{}

	if cfg.DatabaseURL != "" {
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("database: %v", err)
		}
		defer db.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := db.Ping(ctx); err != nil {
			logger.Printf("database unreachable, continuing with in-process stores: %v", err)
		} else {
			deps.DB = db
		}
		cancel()
	}

	if sink, err := database.NewSupabaseSink(cfg.SupabaseURL, cfg.SupabaseServiceKey); err == nil {
		deps.Sessions = sink
	} else {
		logger.Printf("supabase sink disabled: %v", err)
	}

	if redisSink := observability.NewRedisSink(cfg.RedisAddr, "governance.events"); redisSink != nil {
		deps.Sinks = append(deps.Sinks, redisSink)
		defer redisSink.Close()
	}

	rt, err := runtime.New(cfg, deps)
	if err != nil {
		logger.Fatalf("runtime: %v", err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(rt),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Printf("listening on :%s env=%s version=%s", cfg.Port, cfg.AppEnv, cfg.BuildVersion)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Println("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Printf("shutdown incomplete: %v", err)
	}
}
