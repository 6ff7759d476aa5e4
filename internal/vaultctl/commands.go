package vaultctl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/filex"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/server/config"
	"github.com/dmitrijs2005/gophvault/internal/server/models"
	"github.com/dmitrijs2005/gophvault/internal/server/snapshotcodec"
	"github.com/juju/clock"
	"github.com/spf13/cobra"
)

// openDB is a test seam. The returned func closes the handle.
var openDB = func(ctx context.Context, dsn string) (*sql.DB, dbx.Dialect, func() error, error) {
	db, dialect, err := dbx.Open(ctx, dsn)
	if err != nil {
		return nil, dialect, nil, err
	}
	return db, dialect, db.Close, nil
}

var wallClock clock.Clock = clock.WallClock

type cli struct {
	cfg   *config.Config
	tool  *Tool
	close func() error
}

// NewRootCmd builds the vaultctl command tree. Connection settings come from
// the GOPHVAULT_* environment and can be overridden by flags.
func NewRootCmd() *cobra.Command {
	c := &cli{cfg: config.LoadEnvConfig()}

	root := &cobra.Command{
		Use:   "vaultctl",
		Short: "Operator tool for a gophvault database",
		Long: `vaultctl inspects and repairs a gophvault vault while the server is down.

Use it to see whether a rotation left a snapshot behind, export that snapshot,
and restore or discard it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, dialect, closeFn, err := openDB(ctx, c.cfg.DatabaseDSN)
			if err != nil {
				return err
			}
			log := logging.New(cmd.ErrOrStderr(), "text", c.cfg.LogLevel)
			tool, err := NewTool(ctx, db, dialect, c.cfg, wallClock, log)
			if err != nil {
				_ = closeFn()
				return err
			}
			c.tool, c.close = tool, closeFn
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.close == nil {
				return nil
			}
			return c.close()
		},
	}

	root.PersistentFlags().StringVarP(&c.cfg.DatabaseDSN, "dsn", "d", c.cfg.DatabaseDSN, "database DSN")
	root.PersistentFlags().StringVar(&c.cfg.VaultID, "vault", c.cfg.VaultID, "vault id")
	root.PersistentFlags().StringVar(&c.cfg.LogLevel, "log-level", "warn", "log level")

	root.AddCommand(c.statusCmd(), c.snapshotCmd(), c.checkSecretCmd())
	return root
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the vault is initialized and whether a snapshot is live",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.tool.Status(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Vault:\t%s\n", st.VaultID)
			fmt.Fprintf(w, "Initialized:\t%t\n", st.Initialized)
			fmt.Fprintf(w, "Credentials:\t%d (%d deleted)\n", st.Live, st.Tombstones)
			if s := st.Snapshot; s != nil {
				fmt.Fprintf(w, "Snapshot:\t%s\n", s.ID)
				fmt.Fprintf(w, "  Origin:\t%s\n", s.Origin)
				fmt.Fprintf(w, "  Attempt:\t%s\n", s.AttemptID)
				fmt.Fprintf(w, "  Created:\t%s (%s ago)\n", s.CreatedAt.Format(time.RFC3339), s.Age.Truncate(time.Second))
				fmt.Fprintf(w, "  Credentials:\t%d\n", s.Credentials)
				if s.Origin == models.SnapshotOriginRotation {
					fmt.Fprintf(w, "Warning:\ta rotation left this snapshot; stop the server before restore or discard\n")
				}
			} else {
				fmt.Fprintf(w, "Snapshot:\tnone\n")
			}
			return w.Flush()
		},
	}
}

func (c *cli) snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Work with the live snapshot",
	}

	export := &cobra.Command{
		Use:   "export <file>",
		Short: "Write the live snapshot to a " + snapshotcodec.Extension + " file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := filex.CreateExclusive(args[0])
			if err != nil {
				return err
			}
			snap, err := c.tool.Export(cmd.Context(), f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				_ = os.Remove(args[0])
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported snapshot %s to %s\n", snap.ID, args[0])
			return nil
		},
	}

	archiveCmd := &cobra.Command{
		Use:   "archive",
		Short: "Upload the live snapshot to the configured bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := c.tool.Archive(cmd.Context())
			if err != nil {
				return err
			}
			if key == "" {
				return errors.New("archiving is disabled, set GOPHVAULT_S3_BUCKET")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archived as %s\n", key)
			return nil
		},
	}

	var yes bool
	restore := &cobra.Command{
		Use:   "restore",
		Short: "Put the vault back to the live snapshot and drop it",
		Long:  "Put the vault back to the live snapshot and drop it.\nRun it only while the server is stopped; it does not take the server's vault lock.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("restore overwrites every credential; rerun with --yes")
			}
			snap, err := c.tool.Restore(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored snapshot %s (%d credentials)\n", snap.ID, len(snap.Credentials))
			return nil
		},
	}
	restore.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the restore")

	discard := &cobra.Command{
		Use:   "discard",
		Short: "Drop the live snapshot without restoring it",
		Long:  "Drop the live snapshot without restoring it.\nRun it only while the server is stopped; it does not take the server's vault lock.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := c.tool.Discard(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "discarded snapshot %s\n", snap.ID)
			return nil
		},
	}

	cmd.AddCommand(export, archiveCmd, restore, discard)
	return cmd
}

func (c *cli) checkSecretCmd() *cobra.Command {
	var fromStdin bool

	cmd := &cobra.Command{
		Use:   "check-secret",
		Short: "Tell whether a secret opens the live vault or the snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				secret []byte
				err    error
			)
			if fromStdin {
				secret, err = ReadLine(cmd.InOrStdin())
			} else {
				secret, err = GetSecret(cmd.ErrOrStderr(), "Enter secret: ")
			}
			if err != nil {
				return err
			}
			defer common.WipeByteArray(secret)

			res, err := c.tool.CheckSecret(cmd.Context(), secret)
			if err != nil {
				return err
			}
			printCheck(cmd.OutOrStdout(), common.MaskSecret(string(secret)), res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "read the secret from standard input")
	return cmd
}

func printCheck(w io.Writer, masked string, res *SecretCheck) {
	if !res.Initialized {
		fmt.Fprintln(w, "vault is not initialized")
		return
	}
	fmt.Fprintf(w, "secret %s\n", masked)
	fmt.Fprintf(w, "  live vault: %s\n", yesNo(res.Live))
	if res.HasSnapshot {
		fmt.Fprintf(w, "  snapshot:   %s\n", yesNo(res.Snapshot))
	} else {
		fmt.Fprintln(w, "  snapshot:   none")
	}
}

func yesNo(ok bool) string {
	if ok {
		return "opens"
	}
	return "does not open"
}
