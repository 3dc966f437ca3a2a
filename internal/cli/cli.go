// Package cli implements the casesync command line: inspection of the
// sync state (status, pending, conflicts) and the manual controls
// (resolve, retry, discard, flush) plus basic entity operations.
package cli

import (
	"context"
	"fmt"

	"github.com/iudanet/casesync/internal/engine"
	"github.com/iudanet/casesync/internal/iocli"
)

type Cli struct {
	engine *engine.Engine
	io     iocli.IO
}

func New(eng *engine.Engine, io iocli.IO) *Cli {
	return &Cli{
		engine: eng,
		io:     io,
	}
}

// Run dispatches one command
func (c *Cli) Run(ctx context.Context, command string, args []string) error {
	switch command {
	case "status":
		return c.runStatus(ctx)
	case "list":
		return c.runList(ctx, args)
	case "get":
		return c.runGet(ctx, args)
	case "add":
		return c.runAdd(ctx, args)
	case "update":
		return c.runUpdate(ctx, args)
	case "delete":
		return c.runDelete(ctx, args)
	case "pending":
		return c.runPending(ctx)
	case "conflicts":
		return c.runConflicts(ctx)
	case "resolve":
		return c.runResolve(ctx, args)
	case "retry":
		return c.runRetry(ctx, args)
	case "discard":
		return c.runDiscard(ctx, args)
	case "sync":
		return c.runSync(ctx)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func PrintUsage() {
	fmt.Println("CaseSync Client")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  casesync [OPTIONS] COMMAND")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --version       Show version information")
	fmt.Println("  --config PATH   Path to config file (default: casesync.yaml)")
	fmt.Println("  --server URL    Server URL override")
	fmt.Println("  --db PATH       Path to local database override")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  status                        Show connectivity and sync state")
	fmt.Println("  list <type>                   List cached entities (contato, processo, mensagem)")
	fmt.Println("  get <type> <id>               Show one entity")
	fmt.Println("  add <type> <id> <json>        Create an entity (optimistic)")
	fmt.Println("  update <type> <id> <json>     Update an entity (optimistic)")
	fmt.Println("  delete <type> <id>            Delete an entity (optimistic)")
	fmt.Println("  pending                       List not-yet-synced updates")
	fmt.Println("  conflicts                     List unresolved conflicts")
	fmt.Println("  resolve <id> <policy>         Resolve a conflict (server, local, merged)")
	fmt.Println("  retry <action-id>             Re-arm a failed queued action")
	fmt.Println("  discard <action-id>           Drop a failed action and roll back")
	fmt.Println("  sync                          Flush the offline queue now")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  casesync status")
	fmt.Println("  casesync add contato c-42 '{\"name\":\"Ana\",\"phone\":\"+55 11 9999\"}'")
	fmt.Println("  casesync list processo")
	fmt.Println("  casesync resolve 7c9e6679-7425-40de-944b-e07fc1f90ae7 merged")
	fmt.Println("  casesync --server https://example.com sync")
}
