package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/domrelay/domrelay/cmd/relay-server/app"
)

func main() {
	app.NewApp().Run()
}
