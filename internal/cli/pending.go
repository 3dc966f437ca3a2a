package cli

import (
	"context"
	"fmt"
)

func (c *Cli) runPending(ctx context.Context) error {
	updates, err := c.engine.PendingUpdates(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pending updates: %w", err)
	}

	if len(updates) == 0 {
		c.io.Println("No pending updates.")
		return nil
	}

	actions, err := c.engine.Actions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list queued actions: %w", err)
	}
	actionByUpdate := make(map[string]string, len(actions))
	for _, action := range actions {
		actionByUpdate[action.UpdateID] = action.ActionID
	}

	c.io.Printf("Found %d pending update(s):\n", len(updates))
	c.io.Println()
	for i, update := range updates {
		c.io.Printf("%d. %s %s\n", i+1, update.Operation, update.Key())
		c.io.Printf("   Update ID: %s\n", update.UpdateID)
		if actionID, ok := actionByUpdate[update.UpdateID]; ok {
			c.io.Printf("   Action ID: %s\n", actionID)
		}
		c.io.Printf("   Status:    %s\n", update.Status)
		c.io.Printf("   Base:      v%d\n", update.BaseVersion)
		if update.RetryCount > 0 {
			c.io.Printf("   Attempts:  %d\n", update.RetryCount)
		}
		c.io.Println()
	}

	return nil
}

func (c *Cli) runSync(ctx context.Context) error {
	if !c.engine.Online() {
		c.io.Println("Currently offline: the queue will drain on reconnect.")
	}

	c.engine.Flush()

	pending, err := c.engine.PendingCount(ctx)
	if err != nil {
		return fmt.Errorf("failed to get queue depth: %w", err)
	}
	c.io.Printf("Flush requested (%d action(s) queued).\n", pending)

	return nil
}
