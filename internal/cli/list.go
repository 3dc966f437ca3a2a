package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/iudanet/casesync/internal/models"
	"github.com/iudanet/casesync/internal/router"
	"github.com/iudanet/casesync/internal/storage"
)

func (c *Cli) runList(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing entity type. Usage: casesync list <contato|processo|mensagem>")
	}

	entityType := args[0]
	snaps := c.engine.List(entityType)

	if len(snaps) == 0 {
		c.io.Printf("No %s entities cached.\n", entityType)
		return nil
	}

	c.io.Printf("Found %d %s entities:\n", len(snaps), entityType)
	c.io.Println()
	for i, snap := range snaps {
		c.io.Printf("%d. %s (version %d)\n", i+1, snap.EntityID, snap.Version)
		c.io.Printf("   Updated: %s\n", snap.UpdatedAt.Format("2006-01-02 15:04:05"))
	}

	return nil
}

func (c *Cli) runGet(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: casesync get <type> <id>")
	}

	key := models.EntityKey{Type: args[0], ID: args[1]}

	result, err := c.engine.Read(ctx, key, router.StrategyCacheFirst)
	if err != nil {
		if errors.Is(err, storage.ErrSnapshotNotFound) || errors.Is(err, router.ErrUnavailable) {
			return fmt.Errorf("entity %s not found locally and server unreachable", key)
		}
		return fmt.Errorf("failed to read entity: %w", err)
	}

	snap := result.Snapshot
	c.io.Printf("Entity:  %s\n", snap.Key())
	c.io.Printf("Version: %d\n", snap.Version)
	c.io.Printf("Source:  %s\n", result.Source)
	if snap.Deleted {
		c.io.Println("Deleted: yes")
	}
	c.io.Printf("Payload: %s\n", string(snap.Payload))

	return nil
}
