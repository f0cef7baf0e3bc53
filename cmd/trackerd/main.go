package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"fleettrack/internal/auth"
	"fleettrack/internal/buffer"
	"fleettrack/internal/cache"
	"fleettrack/internal/config"
	"fleettrack/internal/detect"
	"fleettrack/internal/hub"
	"fleettrack/internal/ingest"
	"fleettrack/internal/store"
	transporthttp "fleettrack/internal/transport/http"
	transportkafka "fleettrack/internal/transport/kafka"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	if err := godotenv.Load(); err != nil {
		log.Info("no .env file found, using system environment variables")
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, err := store.NewRedisKV(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("redis connection failed")
	}
	defer kv.Close()

	db, err := store.NewPostgres(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("postgres connection failed")
	}
	defer db.Close()

	registry := hub.NewRegistry(log)
	svc := ingest.NewService(
		db,
		cache.NewLatest(kv, cfg.LatestTTL),
		buffer.New(kv, db, cfg.BufferFlushCap, cfg.FlushInterval, cfg.BufferRetention, log),
		detect.New(kv, db, cfg.MotionStateTTL, log),
		registry,
		db,
		log,
	)

	handler := transporthttp.NewServer(svc, registry, auth.NewAuthenticator(cfg, kv), log)
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithField("port", cfg.HTTPPort).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if len(cfg.KafkaBrokers) > 0 {
		consumer := transportkafka.NewConsumer(cfg, svc, log)
		defer consumer.Close()
		g.Go(func() error {
			return consumer.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("trackerd exited with error")
	}
	log.Info("trackerd stopped")
}
