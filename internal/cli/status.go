package cli

import (
	"context"
	"fmt"
	"time"
)

func (c *Cli) runStatus(ctx context.Context) error {
	c.io.Println("=== Sync Status ===")
	c.io.Println()

	if c.engine.Online() {
		c.io.Println("Connectivity: online")
	} else {
		c.io.Println("Connectivity: offline")
	}

	lastSync, err := c.engine.LastSync(ctx)
	if err != nil {
		return fmt.Errorf("failed to get last sync time: %w", err)
	}
	if lastSync == 0 {
		c.io.Println("Last sync:    never")
	} else {
		c.io.Printf("Last sync:    %s\n", time.Unix(lastSync, 0).Format(time.RFC3339))
	}

	pending, err := c.engine.PendingCount(ctx)
	if err != nil {
		return fmt.Errorf("failed to get queue depth: %w", err)
	}

	conflicts, err := c.engine.Conflicts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list conflicts: %w", err)
	}

	c.io.Println()
	if pending > 0 {
		c.io.Printf("Pending: %d action(s) waiting to be synchronized\n", pending)
		c.io.Println("Run 'casesync sync' to flush the queue.")
	} else {
		c.io.Println("All local changes synchronized")
	}

	if len(conflicts) > 0 {
		c.io.Printf("Conflicts: %d unresolved\n", len(conflicts))
		c.io.Println("Run 'casesync conflicts' to inspect them.")
	}

	return nil
}
