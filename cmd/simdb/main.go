// Command simdb is the SimDB command-line interface.
package main

import (
	"os"

	"github.com/simdb-io/simdb/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
