// Package shell runs a task payload of the form {"command": "...", "args": [...]}.
package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/rs/zerolog/log"

	"workqueue/internal/domain"
)

type Shell struct{}

type Cmd struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

func (h Shell) Handle(ctx context.Context, t domain.Task) error {
	var c Cmd
	if err := json.Unmarshal(t.Payload, &c); err != nil {
		return fmt.Errorf("invalid shell payload: %w", err)
	}
	if c.Command == "" {
		return fmt.Errorf("command is required")
	}
	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("shell error: %v; out=%s", err, string(out))
	}
	log.Debug().Str("task_id", t.ID).Str("command", c.Command).Bytes("output", out).Msg("shell task done")
	return nil
}
