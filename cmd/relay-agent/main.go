package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/domrelay/domrelay/cmd/relay-agent/app"
)

func main() {
	app.NewApp().Run()
}
