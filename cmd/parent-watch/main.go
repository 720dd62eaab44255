package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"school-transit/internal/agent/api"
	"school-transit/internal/agent/control"
	"school-transit/internal/agent/domain"
	"school-transit/internal/agent/metrics"
	"school-transit/internal/agent/planner"
	"school-transit/internal/agent/realtime"
	"school-transit/internal/agent/store"
	"school-transit/pkg/config"
	"school-transit/pkg/logger"
)

// The parent watch agent follows the trips carrying the parent's students:
// it keeps the trip snapshots and the driver position fresh over the socket
// and serves them on the local control API. It never tracks a position of
// its own.
func main() {
	log := logger.NewLogger("parent-watch")
	log.Info("agent_start", "Parent watch agent is starting")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(".env")
	if err != nil {
		log.Error("config_load_failed", err)
		os.Exit(1)
	}

	coll := metrics.NewCollector()
	metricsSrv := coll.Serve(fmt.Sprintf(":%d", cfg.Metrics.Port))
	defer metricsSrv.Close()

	client := api.NewClient(cfg.API.BaseURL, api.NewMemoryTokenStore(), log, metrics.APIObserver{C: coll})

	user, err := client.Login(ctx, cfg.Auth.Phone, cfg.Auth.Password)
	if err != nil {
		log.Error("login_failed", err)
		os.Exit(1)
	}
	log = log.WithFields(map[string]interface{}{"user_id": user.ID})

	tripStore := store.NewTripStore(log)
	locations := store.NewLocationCache()

	trips, err := client.ParentTrips(ctx, user.ID)
	if err != nil {
		log.Error("trips_fetch_failed", err)
		os.Exit(1)
	}
	for _, raw := range trips {
		if _, _, err := tripStore.Load(raw); err != nil {
			log.WithFields(map[string]interface{}{"trip_id": raw.ID}).
				Error("trip_load_failed", err)
		}
	}

	channel, err := realtime.New(realtime.Config{
		URL:       realtime.SocketURL(cfg.API.BaseURL),
		Role:      domain.RoleParent,
		UserID:    user.ID,
		Store:     tripStore,
		Locations: locations,
		Retry: &realtime.ExponentialBackoff{
			Initial:    cfg.Socket.BackoffInitial,
			Max:        cfg.Socket.BackoffMax,
			MaxRetries: cfg.Socket.MaxRetries,
		},
		Logger:   log,
		Observer: metrics.SocketObserver{C: coll},
	})
	if err != nil {
		log.Error("channel_init_failed", err)
		os.Exit(1)
	}
	go channel.Run(ctx)

	handler := control.NewHandler(control.HandlerConfig{
		Store:     tripStore,
		Locations: locations,
		Backend:   client,
		Socket:    channel,
		Planner:   planner.New(nil, log, metrics.PlannerObserver{C: coll}),
		Logger:    log,
	})

	if err := control.NewServer(cfg.Control.Port, handler, log).Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("control_server_failed", err)
		os.Exit(1)
	}
	log.Info("agent_stop", "Parent watch agent stopped")
}
