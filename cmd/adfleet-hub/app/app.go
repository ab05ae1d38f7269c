package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"
	"k8s.io/klog/v2"

	"github.com/autopeer-io/adfleet/cmd/adfleet-hub/app/options"
	"github.com/autopeer-io/adfleet/pkg/app"
	"github.com/autopeer-io/adfleet/pkg/log"
)

const (
	commandName = "adfleet-hub"
	commandDesc = `The AdFleet Hub tracks the presence of in-vehicle advertising devices,
serves their content manifests and keeps the screens paired in one vehicle
playing in lockstep.`
)

func NewApp() *app.App {
	opts := options.NewHubOptions()
	application := app.NewApp(
		commandName,
		"Launch an AdFleet hub server",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithEnvPrefix("ADFLEET"),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
		app.WithSubcommand(newInspectCommand()),
	)
	return application
}

func run(opts *options.HubOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)
		klog.SetLogger(log.Std().Logr())

		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		server, err := cfg.NewHubServer(ctx)
		if err != nil {
			return fmt.Errorf("failed to create hub server: %w", err)
		}

		return server.Run(ctx)
	}
}
