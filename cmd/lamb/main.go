// Command lamb serves and drives the shared state of the lamb installation.
package main

import (
	"fmt"
	"os"

	"github.com/etiennedemoulin/nodes-lamb/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
