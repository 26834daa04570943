// Package commands implements the gwdirector CLI.
package commands

import (
	"errors"

	"github.com/spf13/cobra"
	"google.golang.org/api/googleapi"
)

// Version information injected at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Exit codes: directory API failures are distinguished so cron wrappers can
// alert differently on upstream outages vs. local misconfiguration.
const (
	exitOK    = 0
	exitLocal = 1
	exitAPI   = 2
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "gwdirector",
	Short: "Google Workspace to extrausers identity director",
	Long: `gwdirector bridges a Google Workspace / Cloud Identity directory to a
Linux host's libnss-extrausers database.

The provision command mints POSIX attribute sets (username, UID, GID, home,
shell) for directory users that have none and writes them back upstream.
The sync command projects users, groups, and memberships into a local SQLite
cache and materialises /var/lib/extrausers/{passwd,group,shadow} from it,
rewriting files only when their content actually changed.

Use "gwdirector [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// SetVersion stores the build metadata from main.
func SetVersion(version, commit, date string) {
	Version = version
	Commit = commit
	Date = date
}

// Execute runs the CLI and maps the outcome to a process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrf("Error: %v\n", err)
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			return exitAPI
		}
		return exitLocal
	}
	return exitOK
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: /etc/gwdirector/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(provisionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
