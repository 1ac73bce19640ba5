package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/config"
	"github.com/smallbiznis/storefront/internal/observability"
	"github.com/smallbiznis/storefront/internal/order"
	outboxrepo "github.com/smallbiznis/storefront/internal/outbox/repository"
	"github.com/smallbiznis/storefront/internal/payment"
	"github.com/smallbiznis/storefront/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var Version = "dev"

// cliNodeID keeps ids minted by the CLI apart from the server's node.
const cliNodeID = 2

func main() {
	rootCmd := &cobra.Command{
		Use:           "storefrontctl",
		Short:         "Operate the storefront payment reconciliation engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(orderCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(webhookCmd())
	rootCmd.AddCommand(tokenCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// runApp starts the storage and reconciliation graph without the HTTP server
// or the outbox relay, fills targets and calls fn.
func runApp(ctx context.Context, fn func(context.Context) error, targets ...interface{}) error {
	opts := []fx.Option{
		fx.NopLogger,
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		order.Module,
		fx.Provide(outboxrepo.Provide),
		payment.Module,
	}
	if len(targets) > 0 {
		opts = append(opts, fx.Populate(targets...))
	}
	return startAndRun(ctx, fx.New(opts...), fn)
}

func startAndRun(ctx context.Context, app *fx.App, fn func(context.Context) error) error {
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()

	return fn(ctx)
}

func registerSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(cliNodeID)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
