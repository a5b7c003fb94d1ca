// Command sprinkler runs one pass of the Seed Society watering agent.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/sprinkler/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
