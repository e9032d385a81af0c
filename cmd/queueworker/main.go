package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"workqueue/internal/client"
	"workqueue/internal/config"
	"workqueue/internal/handlers/logfile"
	"workqueue/internal/handlers/shell"
	"workqueue/internal/handlers/webhook"
	"workqueue/internal/logger"
	"workqueue/internal/queue"
	"workqueue/internal/store"
	"workqueue/internal/worker"
)

func main() {
	var cfg config.Worker
	if err := config.Load(&cfg); err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	for _, name := range []string{"url", "u"} {
		flag.StringVar(&cfg.URL, name, cfg.URL, "base URL of the queue server")
	}
	for _, name := range []string{"delay", "d"} {
		flag.Var(&cfg.Delay, name, "wait between polls when the queue is drained, in seconds or as a duration like 500ms")
	}
	for _, name := range []string{"logfile", "f"} {
		flag.StringVar(&cfg.Logfile, name, cfg.Logfile, "file the log handler appends to")
	}
	flag.StringVar(&cfg.QueueDir, "dir", cfg.QueueDir, "read the queue directory directly instead of using -url")
	flag.StringVar(&cfg.Handler, "handler", cfg.Handler, "task handler: log, shell or webhook")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite DB for history when using -dir")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	flag.Parse()

	logger.Setup(cfg.AppEnv, cfg.LogLevel)

	handler, err := newHandler(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("handler")
	}

	var (
		src  worker.Source
		opts []worker.Option
	)
	switch {
	case cfg.QueueDir != "":
		qs, err := queue.NewStore(cfg.QueueDir)
		if err != nil {
			log.Fatal().Err(err).Str("dir", cfg.QueueDir).Msg("open queue directory")
		}
		src = queue.NewService(qs, 0)
		if cfg.DBPath != "" {
			db, err := store.Open(cfg.DBPath)
			if err != nil {
				log.Fatal().Err(err).Msg("open db")
			}
			defer db.Close()
			opts = append(opts, worker.WithRecorder(store.NewSQLiteRepo(db)))
		}
		log.Info().Str("dir", qs.Dir()).Msg("using queue directory")
	case cfg.URL != "":
		c := client.New(cfg.URL, cfg.APIKey)
		src = c
		opts = append(opts, worker.WithRecorder(c))
		log.Info().Str("url", cfg.URL).Msg("using queue server")
	default:
		log.Fatal().Msg("one of -url or -dir is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		log.Info().Msg("shutting down")
		cancel()
	}()

	worker.New(src, handler, cfg.Delay.Duration(), opts...).Run(ctx)
}

func newHandler(cfg config.Worker) (worker.Handler, error) {
	switch cfg.Handler {
	case "log", "":
		return logfile.New(cfg.Logfile), nil
	case "shell":
		return shell.Shell{}, nil
	case "webhook":
		return webhook.Webhook{}, nil
	default:
		return nil, fmt.Errorf("unknown handler %q", cfg.Handler)
	}
}
