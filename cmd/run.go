package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"mysql-backup-sync/internal/application"
	"mysql-backup-sync/internal/display"
	"mysql-backup-sync/internal/storage"
)

func newRunCommand(rt *runtime, opts *globalOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Back up every configured server and upload the artifacts",
		Long: `Run one backup cycle.

The run takes the host lock, pings every server, dumps each selected
database with mysqldump (credentials are passed through a private option
file, never on the command line), skips dumps identical to yesterday's
artifact when incremental mode is on, gzips the rest into
<backup_dir>/<YYYYMMDD>_<database>.sql.gz and uploads the directory to the
configured storage backend.

Examples:
  # Nightly run from cron
  mysql-backup-sync run --config /etc/mysql-backup-sync.yaml

  # Show which databases would be backed up, without dumping anything
  mysql-backup-sync run --dry-run

  # One-off run to a mounted disk with two dumps in flight
  mysql-backup-sync run --storage local --parallelism 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			orchestrator := application.New(rt.config, rt.logger, dependencies())
			palette := display.NewPalette(cmd.OutOrStdout(), opts.noColor)
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			if dryRun {
				plans, report, err := orchestrator.Plan(ctx)
				if plans != nil {
					if renderErr := display.RenderPlan(cmd.OutOrStdout(), palette, plans, report); renderErr != nil {
						return renderErr
					}
				}
				return err
			}

			result, err := orchestrator.Run(ctx)
			if result != nil && len(result.Report.Outcomes)+len(result.Report.Failures()) > 0 {
				if renderErr := display.RenderRun(cmd.OutOrStdout(), palette, display.RunSummary{
					Report:    result.Report,
					Backend:   result.Backend,
					UploadErr: result.UploadErr,
					Duration:  result.Duration,
					Width:     display.TerminalWidth(cmd.OutOrStdout()),
				}); renderErr != nil {
					return renderErr
				}
			}
			return err
		},
	}

	f := cmd.Flags()
	f.BoolVar(&dryRun, "dry-run", false, "ping hosts and list databases without dumping")
	addRunFlags(f)
	return cmd
}

// addRunFlags declares the flags that override configuration keys
func addRunFlags(f *pflag.FlagSet) {
	f.String("backup-dir", "", "directory holding the compressed artifacts")
	f.String("lock-file", "", "path of the single-run lock file")
	f.Int("parallelism", 0, "maximum dumps in flight across all hosts")
	f.Int("retention-days", 0, "git backend: days to keep (-1 forever, 0 today only)")
	f.Bool("incremental", false, "skip dumps identical to yesterday's artifact")
	f.String("fingerprint", "", "checksum for incremental mode: blake2b, xxhash, sha256")
	f.Bool("delete-local", false, "delete local artifacts after a confirmed upload")
	f.StringSlice("databases", nil, "only back up these databases")
	f.StringSlice("exclude", nil, "never back up these databases")
	f.String("storage", "", fmt.Sprintf("storage backend: %v", storage.SupportedTypes()))
	f.String("metrics-textfile", "", "write Prometheus metrics to this file after the run")
}
