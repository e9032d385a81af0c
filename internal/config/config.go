// Package config reads process settings from the environment. Values may come
// from a .env file in the working directory or from the file named by
// WORKQUEUE_SETTINGS; variables already set in the environment win.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// SettingsEnv names an env file to load before parsing.
const SettingsEnv = "WORKQUEUE_SETTINGS"

var ErrParsingConfig = errors.New("failed to parse configuration")

type Server struct {
	AppEnv           string        `env:"APP_ENV" envDefault:"development"`
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"info"`
	QueueDir         string        `env:"QUEUE_DIR" envDefault:"data"`
	DefaultPriority  int           `env:"DEFAULT_PRIORITY" envDefault:"100"`
	HTTPAddr         string        `env:"HTTP_ADDR" envDefault:":5000"`
	DBPath           string        `env:"DB_PATH" envDefault:"workqueue.db"`
	APIKey           string        `env:"API_KEY"`
	SchedulesFile    string        `env:"SCHEDULES_FILE"`
	ScheduleInterval time.Duration `env:"SCHEDULE_INTERVAL" envDefault:"1s"`
	MetricsInterval  time.Duration `env:"METRICS_INTERVAL" envDefault:"5s"`
	EnableDebug      bool          `env:"ENABLE_DEBUG" envDefault:"false"`
}

type Worker struct {
	AppEnv   string        `env:"APP_ENV" envDefault:"development"`
	LogLevel string        `env:"LOG_LEVEL" envDefault:"info"`
	URL      string        `env:"WORKER_URL"`
	QueueDir string        `env:"QUEUE_DIR"`
	Delay    Seconds       `env:"WORKER_DELAY" envDefault:"5"`
	Logfile  string        `env:"WORKER_LOGFILE" envDefault:"worker_log.txt"`
	Handler  string        `env:"WORKER_HANDLER" envDefault:"log"`
	DBPath   string        `env:"DB_PATH"`
	APIKey   string        `env:"API_KEY"`
}

// Load fills v from the environment after loading any env files.
func Load[T any](v *T) error {
	if err := loadEnvFiles(); err != nil {
		return err
	}
	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}
	return nil
}

func loadEnvFiles() error {
	if path := os.Getenv(SettingsEnv); path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	// the default .env is optional
	_ = godotenv.Load()
	return nil
}
