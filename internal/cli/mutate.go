package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iudanet/casesync/internal/models"
	"github.com/iudanet/casesync/internal/mutation"
	"github.com/iudanet/casesync/internal/queue"
)

func (c *Cli) runAdd(ctx context.Context, args []string) error {
	return c.apply(ctx, models.OpCreate, args)
}

func (c *Cli) runUpdate(ctx context.Context, args []string) error {
	return c.apply(ctx, models.OpUpdate, args)
}

func (c *Cli) runDelete(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: casesync delete <type> <id>")
	}
	return c.apply(ctx, models.OpDelete, []string{args[0], args[1], "null"})
}

func (c *Cli) apply(ctx context.Context, op models.Operation, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: casesync %s <type> <id> <json>", op)
	}

	entityType, entityID := args[0], args[1]
	payload := json.RawMessage(args[2])
	if op != models.OpDelete && !json.Valid(payload) {
		return fmt.Errorf("payload is not valid JSON")
	}

	handle, err := c.engine.Apply(ctx, entityType, entityID, op, payload)
	if err != nil {
		switch {
		case errors.Is(err, mutation.ErrConflictPending):
			return fmt.Errorf("entity %s/%s has an unresolved conflict; run 'casesync conflicts'", entityType, entityID)
		case queue.IsQueueFull(err):
			return fmt.Errorf("offline queue is full; run 'casesync sync' when online or discard failed actions")
		default:
			return fmt.Errorf("failed to apply %s: %w", op, err)
		}
	}

	c.io.Printf("Applied %s to %s/%s (update %s)\n", op, entityType, entityID, handle.UpdateID)
	if !c.engine.Online() {
		c.io.Println("Currently offline: the change is queued and will sync on reconnect.")
	}

	return nil
}
