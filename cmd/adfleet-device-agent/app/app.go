package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/adfleet/cmd/adfleet-device-agent/app/options"
	"github.com/autopeer-io/adfleet/pkg/app"
	"github.com/autopeer-io/adfleet/pkg/log"
)

const (
	commandName = "adfleet-device-agent"
	commandDesc = `The AdFleet device agent runs on an in-vehicle screen. It holds the push
stream to the hub open, keeps the content manifest current, follows the
vehicle's synchronized play commands and reports heartbeats and impressions.`
)

func NewApp() *app.App {
	opts := options.NewAgentOptions()
	application := app.NewApp(
		commandName,
		"Launch an AdFleet device agent",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithEnvPrefix("ADFLEET"),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
	)
	return application
}

func run(opts *options.AgentOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)

		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		agent, err := cfg.NewAgent()
		if err != nil {
			return fmt.Errorf("failed to create agent: %w", err)
		}

		return agent.Run(ctx)
	}
}
