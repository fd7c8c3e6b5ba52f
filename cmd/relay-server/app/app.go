package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/domrelay/domrelay/cmd/relay-server/app/options"
	"github.com/domrelay/domrelay/pkg/app"
	"github.com/domrelay/domrelay/pkg/log"
)

const (
	commandName = "relay-server"
	commandDesc = `The relay server stores commands for remote browser agents, pushes
them over MQTT or Redis, and verifies every reported execution against
its success criteria before anything is reported as done.`
)

func NewApp() *app.App {
	opts := options.NewServerOptions()
	return app.NewApp(
		commandName,
		"Launch a domrelay relay server",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
	)
}

func run(opts *options.ServerOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)
		defer log.Sync()

		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		server, err := cfg.NewRelayServer(ctx)
		if err != nil {
			return fmt.Errorf("failed to create relay server: %w", err)
		}

		return server.Run(ctx)
	}
}
