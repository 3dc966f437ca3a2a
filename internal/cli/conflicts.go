package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iudanet/casesync/internal/conflict"
	"github.com/iudanet/casesync/internal/models"
)

func (c *Cli) runConflicts(ctx context.Context) error {
	conflicts, err := c.engine.Conflicts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list conflicts: %w", err)
	}

	if len(conflicts) == 0 {
		c.io.Println("No unresolved conflicts.")
		return nil
	}

	c.io.Printf("Found %d conflict(s):\n", len(conflicts))
	c.io.Println()
	for i, record := range conflicts {
		c.io.Printf("%d. %s\n", i+1, record.Key())
		c.io.Printf("   Conflict ID:    %s\n", record.ConflictID)
		c.io.Printf("   Local base:     v%d\n", record.LocalVersion)
		c.io.Printf("   Server version: v%d\n", record.RemoteSnapshot.Version)
		c.io.Printf("   Detected:       %s\n", record.DetectedAt.Format("2006-01-02 15:04:05"))
		c.io.Println()
	}

	c.io.Println("Use 'casesync resolve <conflict-id> <server|local|merged>' to resolve.")

	return nil
}

func (c *Cli) runResolve(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: casesync resolve <conflict-id> <server|local|merged> [json]")
	}

	conflictID := args[0]

	var policy models.Resolution
	switch args[1] {
	case "server":
		policy = models.ResolutionServer
	case "local":
		policy = models.ResolutionLocal
	case "merged":
		policy = models.ResolutionMerged
	default:
		return fmt.Errorf("unknown policy %q. Use: server, local, or merged", args[1])
	}

	var merged json.RawMessage
	if len(args) > 2 {
		merged = json.RawMessage(args[2])
		if !json.Valid(merged) {
			return fmt.Errorf("merged payload is not valid JSON")
		}
	}

	if err := c.engine.ResolveConflict(ctx, conflictID, policy, merged); err != nil {
		if errors.Is(err, conflict.ErrAlreadyResolved) {
			return fmt.Errorf("conflict %s is already resolved", conflictID)
		}
		return fmt.Errorf("failed to resolve conflict: %w", err)
	}

	c.io.Printf("Conflict %s resolved (%s).\n", conflictID, policy)

	return nil
}

func (c *Cli) runRetry(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: casesync retry <action-id>")
	}

	if err := c.engine.RetryAction(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to retry action: %w", err)
	}

	c.io.Printf("Action %s re-armed for delivery.\n", args[0])
	return nil
}

func (c *Cli) runDiscard(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: casesync discard <action-id>")
	}

	if err := c.engine.DiscardAction(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to discard action: %w", err)
	}

	c.io.Printf("Action %s discarded and rolled back.\n", args[0])
	return nil
}
