// Package commands implements tangramfsctl's subcommands.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
)

// Flags holds the persistent flags shared by every subcommand.
var Flags struct {
	PersistDir     string
	BufferDir      string
	UseLocalServer bool
	Hostname       string
}

var rootCmd = &cobra.Command{
	Use:           "tangramfsctl",
	Short:         "TangramFS control - inspect a running job's metadata/lock server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&Flags.PersistDir, "persist-dir", "/mnt/pfs/tangramfs", "job persist directory (holds tfs.cfg)")
	rootCmd.PersistentFlags().StringVar(&Flags.BufferDir, "buffer-dir", "/tmp/tangramfs", "node buffer directory (holds tfs-<hostname>.cfg)")
	rootCmd.PersistentFlags().BoolVar(&Flags.UseLocalServer, "local-server", false, "connect to this node's per-node server instead of the job's global one")
	rootCmd.PersistentFlags().StringVar(&Flags.Hostname, "hostname", "", "hostname of the per-node server to connect to (requires --local-server)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
}
