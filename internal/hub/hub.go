// Package hub assembles the AdFleet hub: record store, presence registry,
// manifest builder, playback orchestrator and the servers exposing them.
package hub

import (
	"context"

	"github.com/autopeer-io/adfleet/internal/hub/playback"
	"github.com/autopeer-io/adfleet/internal/hub/presence"
	"github.com/autopeer-io/adfleet/internal/hub/server"
	httpserver "github.com/autopeer-io/adfleet/internal/hub/server/http"
	"github.com/autopeer-io/adfleet/pkg/log"
)

type HubServer struct {
	manager      *server.Manager
	registry     *presence.Registry
	orchestrator *playback.Orchestrator
	http         *httpserver.Server
	closeStore   func() error
}

// Run resumes playback sessions that were live before the last restart,
// then serves until ctx is cancelled.
func (s *HubServer) Run(ctx context.Context) error {
	defer func() {
		if err := s.closeStore(); err != nil {
			log.Error(err, "Failed to close record store")
		}
	}()

	restored := s.orchestrator.RestoreOnBoot(ctx)
	log.Info("Playback sessions restored", "vehicles", restored)
	s.http.MarkReady()

	// Servers run on their own context so the registry can be told about
	// the shutdown before streams start closing.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		log.Info("Shutdown signal received, waiting for servers to stop...")
		s.registry.PrepareShutdown()
		cancel()
	})
	defer stop()

	err := s.manager.Start(runCtx)

	for _, session := range s.orchestrator.Sessions() {
		s.orchestrator.Stop(context.Background(), session.VehicleID)
	}
	if err != nil {
		return err
	}
	log.Info("adfleet-hub stopped gracefully.")
	return nil
}
