// Command handoff reconciles sign-ins and payments confirmed outside the app.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/handoff/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
