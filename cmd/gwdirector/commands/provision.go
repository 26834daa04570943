package commands

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/mirovsky/gwdirector/internal/logger"
	"github.com/mirovsky/gwdirector/pkg/cache"
	"github.com/mirovsky/gwdirector/pkg/directory"
	"github.com/mirovsky/gwdirector/pkg/reconcile"
)

var provisionCommit bool

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Assign POSIX attribute sets to users that have none",
	Long: `Provision scans every user in scope, reserves the UIDs, GIDs, and
usernames already in use anywhere in the tenant, and plans new POSIX
attribute sets for active users that have none.

The default is a dry run that prints the plan. With --commit each planned
assignment is patched back into the directory; a failure on one user is
logged and skipped so the rest still land.

Examples:
  # Show the plan only
  gwdirector provision

  # Apply it
  gwdirector provision --commit`,
	RunE: runProvision,
}

func init() {
	provisionCmd.Flags().BoolVar(&provisionCommit, "commit", false, "apply the planned assignments (default is dry-run)")
}

func runProvision(cmd *cobra.Command, args []string) error {
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

	client, err := newDirectoryClient(ctx, cfg, directory.ReadWriteScopes)
	if err != nil {
		return err
	}

	planner := reconcile.NewPlanner(client, store, cfg.Provision)
	plan, err := planner.Plan(ctx)
	if err != nil {
		finishRun(cfg, false)
		return err
	}

	if len(plan) == 0 {
		fmt.Println("No users need POSIX attribute sets. Nothing to do.")
		finishRun(cfg, true)
		return nil
	}

	printPlan(plan)

	if !provisionCommit {
		fmt.Println("\nDry run, no changes made. Re-run with --commit to apply.")
		finishRun(cfg, true)
		return nil
	}

	applied, err := planner.Apply(ctx, plan)
	if err != nil {
		finishRun(cfg, false)
		return err
	}
	logger.Info("provisioning finished", "planned", len(plan), "applied", applied)
	fmt.Printf("\nDone. Updated %d/%d users.\n", applied, len(plan))
	finishRun(cfg, true)
	return nil
}

func printPlan(plan []reconcile.Assignment) {
	fmt.Printf("Planned assignments for %d users:\n", len(plan))

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Email", "Username", "UID", "GID", "Home"})
	for _, a := range plan {
		table.Append([]string{
			a.Email,
			a.Username,
			strconv.FormatInt(a.UID, 10),
			strconv.FormatInt(a.GID, 10),
			a.Home,
		})
	}
	table.Render()
}
