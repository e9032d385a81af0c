package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"workqueue/internal/api"
	"workqueue/internal/config"
	"workqueue/internal/logger"
	"workqueue/internal/metrics"
	"workqueue/internal/queue"
	"workqueue/internal/scheduler"
	"workqueue/internal/store"
)

func main() {
	var cfg config.Server
	if err := config.Load(&cfg); err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	flag.StringVar(&cfg.HTTPAddr, "addr", cfg.HTTPAddr, "HTTP bind address")
	flag.StringVar(&cfg.QueueDir, "dir", cfg.QueueDir, "queue directory")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite DB path for history and schedules")
	flag.IntVar(&cfg.DefaultPriority, "priority", cfg.DefaultPriority, "priority for tasks submitted without one")
	flag.StringVar(&cfg.SchedulesFile, "schedules", cfg.SchedulesFile, "YAML file of schedules to create at startup")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	flag.Parse()

	logger.Setup(cfg.AppEnv, cfg.LogLevel)

	qs, err := queue.NewStore(cfg.QueueDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.QueueDir).Msg("open queue directory")
	}
	q := queue.NewService(qs, cfg.DefaultPriority)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	repo := store.NewSQLiteRepo(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.SchedulesFile != "" {
		f, err := scheduler.LoadSeedFile(cfg.SchedulesFile)
		if err != nil {
			log.Fatal().Err(err).Msg("load schedules file")
		}
		n, err := scheduler.Seed(ctx, repo, f, cfg.DefaultPriority, time.Now())
		if err != nil {
			log.Fatal().Err(err).Msg("seed schedules")
		}
		log.Info().Int("created", n).Msg("schedules seeded")
	}

	sched := scheduler.NewService(repo, q, cfg.ScheduleInterval)
	go sched.Start(ctx)
	go metrics.CollectDepth(ctx, q, cfg.MetricsInterval)

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewServer(q, repo, api.Options{
			APIKey:      cfg.APIKey,
			EnableDebug: cfg.EnableDebug,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("dir", qs.Dir()).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	sched.Stop()
	cancel()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}
