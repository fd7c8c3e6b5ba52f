package main

import (
	"os"

	"github.com/domrelay/domrelay/cmd/relayctl/app"
)

func main() {
	if err := app.NewRootCommand(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
