// ckpt is a thin command-line shim over the snapshot engine, for
// exercising the engine against a real workspace. The host application
// normally embeds the engine directly.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/karvel/ckpt/internal/config"
	"github.com/karvel/ckpt/internal/fsx"
	"github.com/karvel/ckpt/internal/snapshot"
)

var (
	flagWorkspace string
	flagDataDir   string
	flagConfig    string
	flagSession   string
	flagVerbose   bool
)

var rootCmd = &cobra.Command{
	Use:           "ckpt",
	Short:         "Incremental workspace snapshots for risky operations",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagWorkspace, "workspace", "w", ".", "workspace root to snapshot")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "snapshot data directory (default <workspace>/.ckpt)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default <data-dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&flagSession, "session", "s", "default", "session id")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(createCmd, restoreCmd, listCmd, sessionsCmd,
		deleteCmd, deleteFromCmd, deleteAllCmd, sweepCmd)
}

// openStore wires the engine against the real filesystem and the Badger
// record database under the data dir.
func openStore() (*snapshot.Store, *snapshot.BadgerStore, error) {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	workspace, err := filepath.Abs(flagWorkspace)
	if err != nil {
		return nil, nil, err
	}
	dataDir := flagDataDir
	if dataDir == "" {
		dataDir = filepath.Join(workspace, ".ckpt")
	}
	cfgPath := flagConfig
	if cfgPath == "" {
		cfgPath = filepath.Join(dataDir, "config.yaml")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.BasePath == "" {
		cfg.BasePath = filepath.Join(dataDir, "payloads")
	}
	// The engine's own data must never end up inside a snapshot.
	if rel, err := filepath.Rel(workspace, dataDir); err == nil && filepath.IsLocal(rel) {
		cfg.IgnorePatterns = append(cfg.IgnorePatterns, filepath.ToSlash(rel))
	}

	records, err := snapshot.OpenBadger(filepath.Join(dataDir, "records"), log)
	if err != nil {
		return nil, nil, err
	}
	store := snapshot.New(fsx.NewOSFS(), records, cfg, workspace, snapshot.Hooks{}, log)
	return store, records, nil
}

var createCmd = &cobra.Command{
	Use:   "create [label]",
	Short: "Take a snapshot of the workspace",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		anchor, _ := cmd.Flags().GetInt("anchor")
		phase, _ := cmd.Flags().GetString("phase")
		label := "manual"
		if len(args) > 0 {
			label = args[0]
		}

		store, records, err := openStore()
		if err != nil {
			return err
		}
		defer records.Close()

		rec, err := store.Create(flagSession, anchor, label, phase)
		if err != nil {
			return err
		}
		if rec == nil {
			cmd.Println("snapshot skipped")
			return nil
		}
		cmd.Printf("%s  %s  %d files tracked, %d copied\n", rec.ID, rec.Kind, len(rec.FileHashes), rec.FileCount)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <snapshot-id>",
	Short: "Rewind the workspace to a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, records, err := openStore()
		if err != nil {
			return err
		}
		defer records.Close()

		res := store.Restore(flagSession, args[0])
		if !res.Success {
			return fmt.Errorf("restore failed: %w", res.Err)
		}
		cmd.Printf("restored %d, deleted %d, skipped %d\n", res.Restored, res.Deleted, res.Skipped)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the session's snapshots, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, records, err := openStore()
		if err != nil {
			return err
		}
		defer records.Close()

		recs, err := store.List(flagSession)
		if err != nil {
			return err
		}
		for _, r := range recs {
			cmd.Printf("%s  %-11s  %s  anchor=%d  %s/%s\n",
				r.CreatedAt.Format("2006-01-02 15:04:05"), r.Kind, r.ID, r.SequenceAnchor, r.Phase, r.Label)
		}
		return nil
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions holding snapshots, most recently updated first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, records, err := openStore()
		if err != nil {
			return err
		}
		defer records.Close()

		infos, err := store.Sessions()
		if err != nil {
			return err
		}
		for _, info := range infos {
			cmd.Printf("%-20s  %3d snapshots  %8d bytes  updated %s  %s\n",
				info.SessionID, info.SnapshotCount, info.TotalBytes,
				info.UpdatedAt.Format("2006-01-02 15:04:05"), info.Title)
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <snapshot-id>",
	Short: "Delete one snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, records, err := openStore()
		if err != nil {
			return err
		}
		defer records.Close()

		ok, err := store.Delete(flagSession, args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no snapshot %s in session %s", args[0], flagSession)
		}
		cmd.Println("deleted")
		return nil
	},
}

var deleteFromCmd = &cobra.Command{
	Use:   "delete-from <anchor>",
	Short: "Delete every snapshot at or past a sequence anchor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		anchor, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid anchor %q: %w", args[0], err)
		}

		store, records, err := openStore()
		if err != nil {
			return err
		}
		defer records.Close()

		n, err := store.DeleteFrom(flagSession, anchor)
		if err != nil {
			return err
		}
		cmd.Printf("deleted %d snapshots\n", n)
		return nil
	},
}

var deleteAllCmd = &cobra.Command{
	Use:   "delete-all",
	Short: "Delete every snapshot of the session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, records, err := openStore()
		if err != nil {
			return err
		}
		defer records.Close()

		n, err := store.DeleteAll(flagSession)
		if err != nil {
			return err
		}
		cmd.Printf("deleted %d snapshots\n", n)
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep [valid-session-id...]",
	Short: "Remove snapshots of sessions outside the given set",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, records, err := openStore()
		if err != nil {
			return err
		}
		defer records.Close()

		n, err := store.SweepOrphans(args)
		if err != nil {
			return err
		}
		cmd.Printf("swept %d snapshots\n", n)
		return nil
	},
}

func main() {
	createCmd.Flags().Int("anchor", 0, "sequence anchor of the triggering event")
	createCmd.Flags().String("phase", config.PhaseBefore, "before|after")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
