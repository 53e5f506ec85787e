// Command rollout deploys versioned desired-state models.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/rollout/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rollout:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
