package main

import (
	"os"

	"github.com/mirovsky/gwdirector/cmd/gwdirector/commands"
)

// Build-time variables injected via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersion(version, commit, date)
	os.Exit(commands.Execute())
}
