package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mirovsky/gwdirector/internal/logger"
	"github.com/mirovsky/gwdirector/pkg/cache"
	"github.com/mirovsky/gwdirector/pkg/config"
	"github.com/mirovsky/gwdirector/pkg/directory"
	"github.com/mirovsky/gwdirector/pkg/extrausers"
	"github.com/mirovsky/gwdirector/pkg/metrics"
	"github.com/mirovsky/gwdirector/pkg/reconcile"
)

// metaKeySnapshotHash stores the fingerprint of the last materialised files.
const metaKeySnapshotHash = "last_snapshot_hash"

var syncDryRun bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync directory users and groups into the extrausers files",
	Long: `Sync fetches all users (and optionally groups) from the directory,
reconciles them into the local SQLite cache, and materialises
passwd/group/shadow under the configured output directory.

Files are only rewritten when their rendered content differs from the last
run; unchanged runs touch nothing.

Examples:
  # Full sync
  gwdirector sync --config /etc/gwdirector/config.yaml

  # Show the files that would be written, without writing
  gwdirector sync --dry-run`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "print would-be files; do not write")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := cache.Open(cfg.DB)
	if err != nil {
		return err
	}
	defer store.Close()

	client, err := newDirectoryClient(ctx, cfg, directory.ReadOnlyScopes)
	if err != nil {
		return err
	}

	err = runSyncPass(ctx, cfg, client, store)
	finishRun(cfg, err == nil)
	return err
}

func runSyncPass(ctx context.Context, cfg *config.Config, client reconcile.Directory, store *cache.Store) error {
	syncer := reconcile.NewSyncer(client, store, cfg.Provision, cfg.Groups)

	stats, err := syncer.SyncUsers(ctx)
	if err != nil {
		return err
	}
	if cfg.Groups.Sync {
		if err := syncer.SyncGroups(ctx); err != nil {
			return err
		}
	}

	users, err := store.ActiveUsers(ctx)
	if err != nil {
		return err
	}
	var groups []cache.Group
	membersOf := map[string][]string{}
	if cfg.Groups.Sync {
		if groups, err = store.ActiveGroups(ctx); err != nil {
			return err
		}
		for _, g := range groups {
			members, err := store.MembersOf(ctx, g.GroupID)
			if err != nil {
				return err
			}
			membersOf[g.GroupID] = members
		}
	}

	snapshot := extrausers.Render(users, groups, membersOf, time.Now())
	hash := snapshot.Hash()
	prev, err := store.MetaGet(ctx, metaKeySnapshotHash)
	if err != nil {
		return err
	}
	changed := hash != prev

	metrics.UsersActive.Set(float64(len(users)))
	logger.Info("sync summary",
		"active_users", len(users), "groups", len(groups),
		"changed", changed, "deactivated", stats.Deactivated)

	if syncDryRun {
		printSnapshot(snapshot)
		return nil
	}

	if !changed {
		logger.Info("no changes detected, skipped writing extrausers files")
		metrics.FilesWritten.Set(0)
		return nil
	}

	if err := snapshot.Write(cfg.Outdir); err != nil {
		return err
	}
	if err := store.MetaSet(ctx, metaKeySnapshotHash, hash); err != nil {
		return err
	}
	metrics.FilesWritten.Set(1)
	logger.Info("wrote updated extrausers files", "outdir", cfg.Outdir)
	return nil
}

func printSnapshot(s extrausers.Snapshot) {
	fmt.Println("# ---- PASSWD ----")
	fmt.Print(s.Passwd)
	fmt.Println("# ---- GROUP ----")
	fmt.Print(s.Group)
	fmt.Println("# ---- SHADOW ----")
	fmt.Print(s.Shadow)
}

// finishRun stamps the run outcome and flushes the metrics textfile.
func finishRun(cfg *config.Config, ok bool) {
	metrics.LastRunTimestamp.Set(float64(time.Now().Unix()))
	if ok {
		metrics.LastRunSuccess.Set(1)
	} else {
		metrics.LastRunSuccess.Set(0)
	}
	if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
		logger.Error("failed to write metrics textfile", "path", cfg.MetricsFile, "error", err)
	}
}
