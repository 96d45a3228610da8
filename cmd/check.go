package cmd

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"

	"mysql-backup-sync/internal/application"
	"mysql-backup-sync/internal/display"
	appErrors "mysql-backup-sync/internal/errors"
	"mysql-backup-sync/internal/fingerprint"
	"mysql-backup-sync/internal/storage"
)

// lookPath is replaced in tests
var lookPath = exec.LookPath

func newCheckCommand(rt *runtime, opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and ping every server without dumping",
		Long: `Check that a run would be able to start.

The check validates the configuration, looks up the mysqldump binary,
builds the storage backend client, reports whether incremental mode can be
honored and pings every server, listing the databases a run would dump.
Nothing is written to the backup directory and the lock is not taken.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			palette := display.NewPalette(out, opts.noColor)
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg := rt.config

			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s configuration is consistent (%d hosts)\n", palette.Success("ok"), len(cfg.Hosts))

			path, err := lookPath(cfg.Dump.Binary)
			if err != nil {
				return appErrors.NewConfigurationError(fmt.Sprintf("dump binary %q not found", cfg.Dump.Binary), err)
			}
			fmt.Fprintf(out, "%s dump binary %s\n", palette.Success("ok"), path)

			backend, err := storage.New(ctx, cfg.Storage, storage.Options{
				DeleteLocal:   cfg.DeleteLocal,
				RetentionDays: cfg.RetentionDays,
				Logger:        rt.logger,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s storage backend %s\n", palette.Success("ok"), backend.Name())
			if err := storage.Close(backend); err != nil {
				rt.logger.WithError(err).Warn("Storage client did not close cleanly")
			}

			if cfg.Incremental {
				if d, err := fingerprint.New(cfg.Fingerprint); err != nil {
					fmt.Fprintf(out, "%s incremental mode requested but %q is unavailable; runs will dump everything\n",
						palette.Warning("warn"), cfg.Fingerprint)
				} else {
					fmt.Fprintf(out, "%s incremental mode with %s fingerprints\n", palette.Success("ok"), d.Algorithm())
				}
			}

			plans, report, err := application.New(cfg, rt.logger, dependencies()).Plan(ctx)
			if plans != nil {
				if renderErr := display.RenderPlan(out, palette, plans, report); renderErr != nil {
					return renderErr
				}
			}
			return err
		},
	}
	return cmd
}
