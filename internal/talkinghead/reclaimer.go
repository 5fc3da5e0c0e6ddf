package talkinghead

import (
	"context"
	"fmt"

	"github.com/book-expert/lecture-service/internal/media"
)

// CommandReclaimer runs an external command that frees transient accelerator memory,
// for example a helper that empties the device cache of a resident model server.
// It does nothing when no command is configured.
type CommandReclaimer struct {
	argv   []string
	runner media.Runner
}

// NewCommandReclaimer creates a reclaimer for argv. A nil runner uses os/exec.
func NewCommandReclaimer(argv []string, runner media.Runner) *CommandReclaimer {
	if runner == nil {
		runner = media.ExecRunner{}
	}

	return &CommandReclaimer{argv: argv, runner: runner}
}

// Reclaim implements core.MemoryReclaimer.
func (c *CommandReclaimer) Reclaim(ctx context.Context) error {
	if len(c.argv) == 0 {
		return nil
	}

	result, err := c.runner.Run(ctx, c.argv[0], c.argv[1:]...)
	if err != nil {
		return fmt.Errorf("reclaim command %s failed (exit=%d): %w", c.argv[0], result.ExitCode, err)
	}

	return nil
}
