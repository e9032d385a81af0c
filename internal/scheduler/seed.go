package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"workqueue/internal/domain"
	"workqueue/internal/store"
)

// SeedFile is the YAML layout of SCHEDULES_FILE:
//
//	schedules:
//	  - name: nightly-report
//	    cron: "0 3 * * *"
//	    payload: "build report"
//	    priority: 10
type SeedFile struct {
	Schedules []SeedSchedule `yaml:"schedules"`
}

type SeedSchedule struct {
	Name     string `yaml:"name"`
	Cron     string `yaml:"cron"`
	Payload  string `yaml:"payload"`
	Priority *int   `yaml:"priority"`
	Disabled bool   `yaml:"disabled"`
}

// LoadSeedFile reads and validates a schedules file.
func LoadSeedFile(path string) (SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SeedFile{}, err
	}
	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return SeedFile{}, fmt.Errorf("parse %s: %w", path, err)
	}
	seen := make(map[string]bool, len(f.Schedules))
	for i, s := range f.Schedules {
		if s.Name == "" {
			return SeedFile{}, fmt.Errorf("schedule #%d: name is required", i+1)
		}
		if seen[s.Name] {
			return SeedFile{}, fmt.Errorf("schedule %q: duplicate name", s.Name)
		}
		seen[s.Name] = true
		if err := ValidateCronExpression(s.Cron); err != nil {
			return SeedFile{}, fmt.Errorf("schedule %q: invalid cron expression: %w", s.Name, err)
		}
	}
	return f, nil
}

// Seed creates the schedules from f that do not exist yet, matched by name.
// Existing schedules are left alone so edits made through the API survive restarts.
func Seed(ctx context.Context, repo store.Repository, f SeedFile, defaultPriority int, now time.Time) (int, error) {
	created := 0
	for _, s := range f.Schedules {
		_, err := repo.GetScheduleByName(ctx, s.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return created, err
		}

		nextRun, err := NextRunTime(s.Cron, now)
		if err != nil {
			return created, err
		}
		priority := defaultPriority
		if s.Priority != nil {
			priority = *s.Priority
		}
		id, err := repo.CreateSchedule(ctx, domain.Schedule{
			Name:     s.Name,
			CronExpr: s.Cron,
			Payload:  []byte(s.Payload),
			Priority: priority,
			Enabled:  !s.Disabled,
			NextRun:  nextRun,
		})
		if err != nil {
			return created, err
		}
		created++
		log.Info().Str("schedule_id", id).Str("schedule_name", s.Name).Msg("schedule seeded")
	}
	return created, nil
}
