package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/domrelay/domrelay/cmd/relay-agent/app/options"
	"github.com/domrelay/domrelay/pkg/app"
	"github.com/domrelay/domrelay/pkg/log"
)

const (
	commandName = "relay-agent"
	commandDesc = `The relay agent runs next to a browser. It receives commands for its
device from relay-server over MQTT, Redis or polling, performs them in the
page and reports the signals it measured afterwards.`
)

func NewApp() *app.App {
	opts := options.NewAgentOptions()
	return app.NewApp(
		commandName,
		"Launch a domrelay browser agent",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
	)
}

func run(opts *options.AgentOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)
		defer log.Sync()

		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		agent, err := cfg.NewAgent(ctx)
		if err != nil {
			return fmt.Errorf("failed to create agent: %w", err)
		}

		return agent.Run(ctx)
	}
}
