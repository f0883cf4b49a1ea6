// Command agrofinder indexes agricultural PDF documents and serves semantic
// search over them. It provides a CLI (via Cobra) for batch work and an HTTP
// server for the web front end.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/agrofinder-go/cmd/agrofinder/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
