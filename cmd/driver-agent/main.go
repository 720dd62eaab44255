package main

import (
	"context"
	"fmt"
	"io"
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
	"school-transit/internal/agent/tracker"
	"school-transit/pkg/config"
	"school-transit/pkg/logger"
)

func main() {
	log := logger.NewLogger("driver-agent")
	log.Info("agent_start", "Driver agent is starting")

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

	trips, err := client.DriverTripsToday(ctx, user.ID)
	if err != nil {
		log.Error("trips_fetch_failed", err)
		os.Exit(1)
	}
	activeTrip := loadTrips(tripStore, trips, log)

	mapsKey := cfg.Maps.Key
	if mapsKey == "" {
		if key, err := client.MapKey(ctx); err != nil {
			log.Error("map_key_fetch_failed", err)
		} else {
			mapsKey = key
		}
	}

	channel, err := realtime.New(realtime.Config{
		URL:       realtime.SocketURL(cfg.API.BaseURL),
		Role:      domain.RoleDriver,
		UserID:    user.ID,
		Store:     tripStore,
		Locations: locations,
		Retry:     retryPolicy(cfg),
		Logger:    log,
		Observer:  metrics.SocketObserver{C: coll},
	})
	if err != nil {
		log.Error("channel_init_failed", err)
		os.Exit(1)
	}
	go channel.Run(ctx)

	if activeTrip != "" {
		trk, err := buildTracker(cfg, activeTrip, user.ID, mapsKey, channel, locations, coll, log)
		if err != nil {
			log.Error("tracker_init_failed", err)
			os.Exit(1)
		}
		go func() {
			if err := trk.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("tracker_stopped", err)
			}
		}()
	} else {
		log.Info("tracker_skipped", "no trip to track today")
	}

	var directions planner.Directions
	if mapsKey != "" {
		directions = planner.NewGoogleDirections(mapsKey)
	}
	routePlanner := planner.New(directions, log, metrics.PlannerObserver{C: coll})

	handler := control.NewHandler(control.HandlerConfig{
		Store:     tripStore,
		Locations: locations,
		Backend:   client,
		Socket:    channel,
		Planner:   routePlanner,
		Logger:    log,
	})

	if err := control.NewServer(cfg.Control.Port, handler, log).Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("control_server_failed", err)
		os.Exit(1)
	}
	log.Info("agent_stop", "Driver agent stopped")
}

// loadTrips fills the store and returns the id of the trip worth tracking:
// the in-progress one, else the first scheduled one.
func loadTrips(tripStore *store.TripStore, trips []domain.RawTrip, log logger.Logger) string {
	active := ""
	for _, raw := range trips {
		trip, _, err := tripStore.Load(raw)
		if err != nil {
			log.WithFields(map[string]interface{}{"trip_id": raw.ID}).
				Error("trip_load_failed", err)
			continue
		}
		switch {
		case trip.Status == domain.TripInProgress:
			active = trip.ID
		case active == "" && trip.Status == domain.TripScheduled:
			active = trip.ID
		}
	}
	return active
}

func buildTracker(cfg *config.Config, tripID, userID, mapsKey string, channel *realtime.Channel,
	locations *store.LocationCache, coll *metrics.Collector, log logger.Logger) (*tracker.Tracker, error) {

	var feed io.Reader = os.Stdin
	if cfg.Tracker.SourcePath != "" {
		f, err := os.Open(cfg.Tracker.SourcePath)
		if err != nil {
			return nil, fmt.Errorf("open position feed: %w", err)
		}
		feed = f
	}

	var geocoder tracker.Geocoder
	if mapsKey != "" {
		geocoder = tracker.NewGoogleGeocoder(mapsKey)
	}

	return tracker.New(tracker.Config{
		TripID:          tripID,
		UserID:          userID,
		MinInterval:     cfg.Tracker.MinInterval,
		MinMovement:     cfg.Tracker.MinMovement,
		GeocodeDistance: cfg.Tracker.GeocodeDistance,
		Source:          tracker.NewJSONLinesSource(feed, log),
		Permissions:     tracker.StaticPermission(tracker.PermissionGranted),
		Geocoder:        geocoder,
		Emitter:         channel,
		Locations:       locations,
		Logger:          log,
		Observer:        metrics.TrackerObserver{C: coll},
		OnDenied: func() {
			log.Info("tracker_denied", "location permission refused")
		},
	})
}

func retryPolicy(cfg *config.Config) realtime.RetryPolicy {
	if !cfg.Socket.AutoReconnect {
		return realtime.NoRetry{}
	}
	return &realtime.ExponentialBackoff{
		Initial:    cfg.Socket.BackoffInitial,
		Max:        cfg.Socket.BackoffMax,
		MaxRetries: cfg.Socket.MaxRetries,
	}
}
