package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"mysql-backup-sync/internal/config"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(newConfigInitCommand(), newConfigShowCommand())
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		host     string
		port     int
		user     string
		password string
		force    bool
		stdout   bool
	)

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a sample configuration file",
		Long: `Write a sample configuration for one server backed up to a git repository.

The password is prompted for when stdin is a terminal and --password is not
given. The file is created with mode 0600.

Examples:
  # Write $HOME/.mysql-backup-sync.yaml, prompting for the password
  mysql-backup-sync config init --host db1.internal --user backup

  # Print a sample to stdout
  mysql-backup-sync config init --stdout`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" && !stdout {
				pw, err := promptPassword(cmd.InOrStdin(), cmd.ErrOrStderr(), user, host)
				if err != nil {
					return err
				}
				password = pw
			}

			sample := config.Sample(host, user, password, port)
			if stdout {
				data, err := config.Marshal(sample)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}

			path, err := initPath(args)
			if err != nil {
				return err
			}
			if err := config.WriteFile(path, sample, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&host, "host", "127.0.0.1", "MySQL host")
	f.IntVar(&port, "port", 3306, "MySQL port")
	f.StringVar(&user, "user", "backup", "MySQL user")
	f.StringVar(&password, "password", "", "MySQL password (prompted when omitted)")
	f.BoolVar(&force, "force", false, "overwrite an existing file")
	f.BoolVar(&stdout, "stdout", false, "print the sample instead of writing a file")
	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile, _ := cmd.Flags().GetString("config")
			v, err := config.NewViper(cfgFile)
			if err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}

			data, err := config.Marshal(maskSecrets(*cfg))
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

const mask = "********"

// maskSecrets returns a copy of cfg whose passwords and keys are replaced
func maskSecrets(cfg config.Config) *config.Config {
	cfg.Passwords = make([]string, len(cfg.Passwords))
	for i := range cfg.Passwords {
		cfg.Passwords[i] = mask
	}

	st := cfg.Storage
	if st.S3 != nil && st.S3.SecretKey != "" {
		s3 := *st.S3
		s3.SecretKey = mask
		st.S3 = &s3
	}
	if st.Azure != nil {
		az := *st.Azure
		az.AccountKey = mask
		st.Azure = &az
	}
	if st.MinIO != nil {
		mc := *st.MinIO
		mc.SecretKey = mask
		st.MinIO = &mc
	}
	if st.SFTP != nil && st.SFTP.Password != "" {
		sc := *st.SFTP
		sc.Password = mask
		st.SFTP = &sc
	}
	cfg.Storage = st
	return &cfg
}

func initPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot locate home directory, pass a path: %w", err)
	}
	return filepath.Join(home, config.DefaultFileName+".yaml"), nil
}

// promptPassword reads without echo from a terminal, or one line otherwise
func promptPassword(in io.Reader, out io.Writer, user, host string) (string, error) {
	fmt.Fprintf(out, "Password for %s@%s: ", user, host)

	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		pw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(pw), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Fprintln(out)
	return strings.TrimRight(line, "\r\n"), nil
}
