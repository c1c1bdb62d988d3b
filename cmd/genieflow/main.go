// Command genieflow is GenieFlow's single binary, split into three cobra
// subcommands: `serve` runs the HTTP session API, `worker` runs a
// standalone task-executing process, and `migrate` prepares the
// secondary archival store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "genieflow",
		Short: "GenieFlow session orchestration engine",
	}
	root.AddCommand(newServeCmd(), newWorkerCmd(), newMigrateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
