package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mirovsky/gwdirector/pkg/config"
)

const defaultConfigPath = "/etc/gwdirector/config.yaml"

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample gwdirector configuration file.

By default the file is created at /etc/gwdirector/config.yaml.
Use --config to choose another path.

Examples:
  # Initialize at the default location
  gwdirector init

  # Initialize at a custom path
  gwdirector init --config ./gwdirector.yaml

  # Overwrite an existing file
  gwdirector init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = defaultConfigPath
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	if err := config.Save(config.Default(), path); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", path)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Fill in auth.sa_key (or auth.secret_resource) and auth.impersonate")
	fmt.Println("  2. Preview provisioning with: gwdirector provision")
	fmt.Printf("  3. Schedule syncs with: gwdirector sync --config %s\n", path)
	return nil
}
