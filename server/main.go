// Command flowd serves the automation engine over HTTP and runs its
// operations from the command line.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/meikuraledutech/flow/api"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("flowd failed")
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "flowd",
		Short:         "Project workflow automation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")

	schema := &cobra.Command{Use: "schema", Short: "Manage database tables"}
	schema.AddCommand(
		withDeps("create", "Create tables", cobra.NoArgs, func(ctx context.Context, d *deps, _ []string) error {
			if err := d.store.CreateSchema(ctx); err != nil {
				return err
			}
			d.logger.Info().Msg("schema created")
			return nil
		}),
		withDeps("drop", "Drop tables", cobra.NoArgs, func(ctx context.Context, d *deps, _ []string) error {
			if err := d.store.DropSchema(ctx); err != nil {
				return err
			}
			d.logger.Info().Msg("schema dropped")
			return nil
		}),
	)

	root.AddCommand(
		withDeps("serve", "Serve the HTTP API", cobra.NoArgs, serve),
		schema,
		withDeps("recompute <graph-id>", "Run an integrity pass over a graph", cobra.ExactArgs(1),
			func(ctx context.Context, d *deps, args []string) error {
				res, err := d.engine.Recompute(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(res)
			}),
		withDeps("complete <node-id>", "Mark a node done and cascade from it", cobra.ExactArgs(1),
			func(ctx context.Context, d *deps, args []string) error {
				res, err := d.engine.CompleteNode(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(res)
			}),
		withDeps("confirm-order <node-id>", "Confirm a material order despite missing stock", cobra.ExactArgs(1),
			func(ctx context.Context, d *deps, args []string) error {
				res, err := d.engine.ConfirmMaterialOrder(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(res)
			}),
	)
	return root
}

// withDeps builds a command that loads the config and opens the stores before run.
func withDeps(use, short string, args cobra.PositionalArgs, run func(ctx context.Context, d *deps, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, os.LookupEnv)
			if err != nil {
				return err
			}
			d, err := open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer d.Close()
			return run(cmd.Context(), d, args)
		},
	}
}

func serve(ctx context.Context, d *deps, _ []string) error {
	app := api.New(d.store, d.notes, d.engine,
		api.WithLogger(d.logger.With().Str("component", "api").Logger()),
		api.WithGatherer(d.registry),
	)

	errc := make(chan error, 1)
	go func() {
		errc <- app.Listen(d.cfg.Listen, fiber.ListenConfig{DisableStartupMessage: true})
	}()
	d.logger.Info().Str("listen", d.cfg.Listen).Msg("serving")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdown); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	d.logger.Info().Msg("stopped")
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
