package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"mysql-backup-sync/internal/application"
	"mysql-backup-sync/internal/config"
	appErrors "mysql-backup-sync/internal/errors"
	"mysql-backup-sync/internal/logging"
)

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

// dependencies supplies the run's external capabilities; tests replace it
var dependencies = func() application.Dependencies { return application.Dependencies{} }

// globalOptions are the persistent flags shared by every subcommand
type globalOptions struct {
	cfgFile   string
	verbose   bool
	quiet     bool
	noColor   bool
	logFile   string
	logFormat string
}

// runtime is what PersistentPreRunE resolves for the subcommand
type runtime struct {
	config *config.Config
	logger *logging.Logger
}

// flagKeys maps flag names to configuration keys; flags only override when set
var flagKeys = map[string]string{
	"log-file":         "log.file",
	"log-format":       "log.format",
	"backup-dir":       "backup_dir",
	"lock-file":        "lock_file",
	"parallelism":      "parallelism",
	"retention-days":   "retention_days",
	"incremental":      "incremental",
	"fingerprint":      "fingerprint",
	"delete-local":     "delete_local",
	"databases":        "databases",
	"exclude":          "exclude_databases",
	"storage":          "storage.type",
	"metrics-textfile": "metrics.textfile",
}

// Execute runs the CLI and exits with the code that matches the outcome
func Execute() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, in io.Reader, out, errOut io.Writer) int {
	root := newRootCommand(out, errOut)
	root.SetIn(in)
	root.SetArgs(args)

	err := root.Execute()
	if err != nil {
		fmt.Fprintf(errOut, "%s %v\n", color.New(color.FgHiRed).Sprint("Error:"), err)
	}
	return appErrors.ExitCode(err)
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	opts := &globalOptions{}
	rt := &runtime{}

	root := &cobra.Command{
		Use:   "mysql-backup-sync",
		Short: "Back up many MySQL servers and ship the dumps to remote storage",
		Long: `mysql-backup-sync dumps every database of every configured MySQL server
with a bounded number of dumps in flight, skips databases whose dump did not
change since yesterday, compresses the rest and ships them to a git
repository, an object store (S3, GCS, Azure, MinIO) or a remote directory
(SFTP or a mounted path).

Only one run per host is active at a time. A failing host, database or
upload never stops unrelated work; the run reports failure at the end.

Exit codes:
  0    every unit succeeded
  1    at least one host, database or upload failed
  2    the configuration is inconsistent
  3    another run holds the lock
  130  interrupted`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !needsConfig(cmd) {
				return nil
			}
			return rt.load(cmd, opts, errOut)
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return appErrors.NewConfigurationError(err.Error(), nil)
	})

	pf := root.PersistentFlags()
	pf.StringVar(&opts.cfgFile, "config", "", "config file (default is $HOME/"+config.DefaultFileName+".yaml)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "log per-task detail")
	pf.BoolVarP(&opts.quiet, "quiet", "q", false, "log warnings and errors only")
	pf.BoolVar(&opts.noColor, "no-color", false, "disable colors in the summary")
	pf.StringVar(&opts.logFile, "log-file", "", "also write logs to this file")
	pf.StringVar(&opts.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(
		newRunCommand(rt, opts),
		newCheckCommand(rt, opts),
		newConfigCommand(),
		newVersionCommand(),
	)
	return root
}

// load resolves configuration and logger for the executing command
func (rt *runtime) load(cmd *cobra.Command, opts *globalOptions, errOut io.Writer) error {
	if opts.verbose && opts.quiet {
		return appErrors.NewConfigurationError("--verbose and --quiet flags are mutually exclusive", nil)
	}

	v, err := config.NewViper(opts.cfgFile)
	if err != nil {
		return err
	}
	if err := bindFlags(v, cmd.Flags()); err != nil {
		return appErrors.NewConfigurationError("failed to bind flags", err)
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	logCfg := cfg.LoggerConfig()
	logCfg.Output = errOut
	switch {
	case opts.verbose:
		logCfg.Level = logging.LogLevelVerbose
	case opts.quiet:
		logCfg.Level = logging.LogLevelQuiet
	}
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return appErrors.NewConfigurationError("failed to set up logging", err)
	}
	if used := v.ConfigFileUsed(); used != "" {
		logger.Debugf("Using config file: %s", used)
	}

	rt.config = cfg
	rt.logger = logger
	return nil
}

// needsConfig is false for commands that must work without a valid configuration
func needsConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "version", "config", "help", "completion":
			return false
		}
	}
	return true
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mysql-backup-sync version %s\n", version)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
			fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Go version: %s\n", goVersion)
		},
	}
}
