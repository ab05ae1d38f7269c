package hub

import (
	"context"
	"fmt"
	"os"

	"github.com/autopeer-io/adfleet/internal/hub/core"
	"github.com/autopeer-io/adfleet/internal/hub/manifest"
	"github.com/autopeer-io/adfleet/internal/hub/notifier"
	"github.com/autopeer-io/adfleet/internal/hub/playback"
	"github.com/autopeer-io/adfleet/internal/hub/presence"
	"github.com/autopeer-io/adfleet/internal/hub/server"
	httpserver "github.com/autopeer-io/adfleet/internal/hub/server/http"
	"github.com/autopeer-io/adfleet/internal/hub/service"
	"github.com/autopeer-io/adfleet/internal/hub/storage"
	"github.com/autopeer-io/adfleet/internal/hub/store"
	"github.com/autopeer-io/adfleet/internal/hub/store/memory"
	"github.com/autopeer-io/adfleet/internal/hub/store/sqlite"
	"github.com/autopeer-io/adfleet/pkg/log"
	"github.com/autopeer-io/adfleet/pkg/mqtt"
	"github.com/autopeer-io/adfleet/pkg/options"
)

type Config struct {
	HttpOptions  *options.HttpOptions
	FleetOptions *options.FleetOptions
	StoreOptions *options.StoreOptions
	MqttOptions  *options.MqttOptions
	S3Options    *options.S3Options
}

func (cfg *Config) NewHubServer(ctx context.Context) (*HubServer, error) {
	fleet := cfg.FleetOptions

	// 1. Infrastructure: record store, with status touches merged by the pipeline
	base, closeStore, err := openStore(ctx, cfg.StoreOptions)
	if err != nil {
		return nil, err
	}
	pipeline := store.NewPipeline(base.Device(), cfg.StoreOptions.FlushInterval)
	repo := store.Buffered(base, pipeline)
	servers := []server.Server{pipeline}

	// 2. Infrastructure: fleet event mirror
	var fleetNotifier core.FleetNotifier = core.NopNotifier{}
	if cfg.MqttOptions.Enabled() {
		client, err := initializeMQTTClient(cfg.MqttOptions)
		if err != nil {
			_ = closeStore()
			return nil, err
		}
		n := notifier.NewMQTTNotifier(client, cfg.MqttOptions.TopicRoot, cfg.MqttOptions.QueueSize)
		fleetNotifier = n
		servers = append(servers, n)
	}

	// 3. Infrastructure: impression archive
	var svcOpts []service.Option
	if cfg.S3Options.Enabled() {
		archive, err := storage.NewMinIOArchive(cfg.S3Options)
		if err != nil {
			_ = closeStore()
			return nil, err
		}
		if err := archive.CheckBucket(ctx); err != nil {
			_ = closeStore()
			return nil, fmt.Errorf("impression archive unavailable: %w", err)
		}
		svcOpts = append(svcOpts, service.WithArchive(archive))
	}

	// 4. Core components
	registry := presence.NewRegistry(presence.Config{
		RestoreWindow:     fleet.RestoreWindow,
		DisconnectTTL:     fleet.DisconnectTTL,
		KeepAliveInterval: fleet.KeepAliveInterval,
		PurgeInterval:     fleet.PurgeInterval,
	}, repo.Device(), presence.WithNotifier(fleetNotifier))

	resolver := manifest.NewResolver(repo.Campaign())
	builder := manifest.NewBuilder(repo.Vehicle(), resolver, fleet.ManifestRefresh)
	orchestrator := playback.New(playback.Config{
		Buffer:   fleet.PlaybackBuffer,
		JoinLead: fleet.JoinLead,
	}, repo, resolver, registry, playback.WithNotifier(fleetNotifier))

	svc := service.New(repo, registry, builder, orchestrator, svcOpts...)

	// 5. Ingress servers
	httpSrv := httpserver.NewServer(cfg.HttpOptions, fleet, svc)
	servers = append(servers, registry, httpSrv)

	return &HubServer{
		manager:      server.NewManager(servers...),
		registry:     registry,
		orchestrator: orchestrator,
		http:         httpSrv,
		closeStore:   closeStore,
	}, nil
}

// openStore opens the configured record store and applies the seed file.
func openStore(ctx context.Context, opts *options.StoreOptions) (core.Repository, func() error, error) {
	var (
		repo   core.Repository
		closer = func() error { return nil }
	)
	switch opts.Driver {
	case options.StoreDriverSQLite:
		st, err := sqlite.Open(ctx, opts.Path, opts.PoolSize)
		if err != nil {
			return nil, nil, err
		}
		repo, closer = st, st.Close
	default:
		repo = memory.New()
	}
	log.Info("Record store opened", "driver", opts.Driver)

	if opts.SeedFile == "" {
		return repo, closer, nil
	}
	seed, err := store.LoadSeedFile(opts.SeedFile)
	if err == nil {
		seeder, ok := repo.(store.Seeder)
		if !ok {
			err = fmt.Errorf("store driver %q cannot be seeded", opts.Driver)
		} else {
			err = seeder.Seed(ctx, seed)
		}
	}
	if err != nil {
		_ = closer()
		return nil, nil, err
	}
	log.Info("Record store seeded", "file", opts.SeedFile,
		"devices", len(seed.Devices), "vehicles", len(seed.Vehicles), "campaigns", len(seed.Campaigns))
	return repo, closer, nil
}

func initializeMQTTClient(opts *options.MqttOptions) (mqtt.Publisher, error) {
	cfg := opts.ToClientConfig()

	if cfg.ClientID == "" {
		hostname, _ := os.Hostname()
		cfg.ClientID = fmt.Sprintf("adfleet-hub-%s", hostname)
	}

	client, err := mqtt.NewClient(cfg)
	if err != nil {
		log.Error(err, "failed to new mqtt client")
		return nil, err
	}

	return client, nil
}
