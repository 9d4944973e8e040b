// Command farehawkctl generates sample trip data, runs detection offline and
// loads trips into a running FareHawk server.
package main

import (
	"os"

	"github.com/opensource-finance/farehawk/cmd/farehawkctl/cmd"
)

func main() {
	if err := cmd.NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
