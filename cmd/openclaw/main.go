// Command openclaw is the gateway's admin CLI. It operates on the state
// directory directly, so tenants can be managed with the daemon stopped.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	Version = "dev"
	Commit  = "unknown"
)

var (
	flagStateDir string
	flagJSON     bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "openclaw",
	Short:   "Administer the openclaw multi-tenant gateway",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("openclaw version %s (commit %s)\n", Version, Commit))

	defaultStateDir := os.Getenv("OPENCLAW_STATE_DIR")
	if defaultStateDir == "" {
		defaultStateDir = "/var/lib/openclaw"
	}
	rootCmd.PersistentFlags().StringVar(&flagStateDir, "state-dir", defaultStateDir, "gateway state directory")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "emit machine-readable JSON")

	rootCmd.AddCommand(tenantsCmd)
	rootCmd.AddCommand(operatorCmd)
}
