// Command tangramfsctl is a thin operator CLI for inspecting a running
// TangramFS job's metadata/lock server over the RPC plane.
package main

import (
	"fmt"
	"os"

	"github.com/tangramfs/tangramfs/cmd/tangramfsctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
