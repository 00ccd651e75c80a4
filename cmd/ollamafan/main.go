// Command ollamafan fans one prompt out over several models of a local
// inference endpoint, streaming every response concurrently to stdout
// while per-model status goes to stderr. The exit code is zero only when
// every model completed successfully.
package main

import (
	"fmt"
	"os"

	"github.com/hupe1980/ollamafan/cmd/ollamafan/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
