package main

import (
	"context"

	"github.com/signalsfoundry/passtrack/internal/config"
	"github.com/signalsfoundry/passtrack/internal/elements"
	"github.com/signalsfoundry/passtrack/internal/logging"
	"github.com/signalsfoundry/passtrack/kb"
	"github.com/signalsfoundry/passtrack/model"
)

// app holds what every command needs: the validated configuration, the
// element-set knowledge base loaded from the backend or the local store, and
// the resolved ground station.
type app struct {
	cfg      *config.Config
	log      logging.Logger
	store    *elements.Store
	elements *kb.ElementStore
	source   *elements.Source
	station  model.GroundStation
}

func setup(ctx context.Context, configPath string, log logging.Logger) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, elements: kb.NewElementStore()}
	if cfg.Store.Path != "" {
		if a.store, err = elements.OpenStore(cfg.Store.Path); err != nil {
			return nil, &model.ConfigurationError{Field: "store.path", Reason: err.Error()}
		}
	}

	var fetcher elements.Fetcher
	if cfg.Backend.SatellitesURL != "" || cfg.Backend.StationsURL != "" {
		fetcher = elements.NewClient(cfg.ClientConfig(), nil, log)
	}
	a.source = elements.NewSource(fetcher, a.store, a.elements, log)

	if cfg.Station.Static {
		a.station = cfg.StationModel()
	} else if a.station, err = a.source.Station(ctx, cfg.Station.Name); err != nil {
		a.close()
		return nil, err
	}
	if err := a.station.Validate(); err != nil {
		a.close()
		return nil, err
	}

	// The supervisor retries on every refresh, so a failed first sync is
	// not fatal.
	if err := a.source.Sync(ctx); err != nil {
		log.Warn(ctx, "initial element sync failed", logging.Err(err))
	}
	log.Info(ctx, "station ready",
		logging.String("station", a.station.Name),
		logging.Float64("latitude", a.station.Latitude),
		logging.Float64("longitude", a.station.Longitude),
		logging.Int("objects", a.elements.Len()),
	)
	return a, nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn(context.Background(), "closing store failed", logging.Err(err))
		}
	}
}
