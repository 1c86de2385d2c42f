package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalsfoundry/passtrack/model"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "passtrack.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func fieldOf(t *testing.T, err error) string {
	t.Helper()
	var cfgErr *model.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error %v is not a ConfigurationError", err)
	}
	return cfgErr.Field
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
station:
  name: Maputo
objects: [ISS, NOAA 19]
backend:
  satellites_url: http://backend/api/satellites/
  stations_url: http://backend/api/ground_stations/
scheduler:
  horizon: 24h
  background_refresh: true
tracking:
  cadence: 500ms
  min_move: 1.5
actuator:
  driver: servo
  elevation_offset: 3
telegram:
  token: abc
  chat_id: "-100"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Station.Name != "Maputo" || len(cfg.Objects) != 2 || cfg.Objects[1] != "NOAA 19" {
		t.Fatalf("unexpected station/objects: %+v %v", cfg.Station, cfg.Objects)
	}
	sup := cfg.SupervisorConfig(model.GroundStation{Name: "Maputo", Active: true})
	if sup.Horizon != 24*time.Hour || sup.Cadence != 500*time.Millisecond || !sup.BackgroundRefresh {
		t.Fatalf("supervisor config = %+v", sup)
	}
	if sup.Tracker.MinMove != 1.5 || sup.Tracker.Limits != model.DefaultLimits() {
		t.Fatalf("tracker config = %+v", sup.Tracker)
	}
	// Unset fields keep their defaults.
	if sup.RefreshInterval != time.Hour || cfg.Store.Path != "passtrack.db" {
		t.Fatalf("defaults lost: refresh %v store %q", sup.RefreshInterval, cfg.Store.Path)
	}
	if a := cfg.ActuatorConfig(); a.Driver != "servo" || a.ElevationOffset != 3 || a.ElevationChannel != 1 {
		t.Fatalf("actuator config = %+v", a)
	}
	if !cfg.TelegramConfig().Enabled() {
		t.Fatalf("telegram not enabled")
	}
	if cfg.ClientConfig().StationsURL != "http://backend/api/ground_stations/" {
		t.Fatalf("client config = %+v", cfg.ClientConfig())
	}
}

func TestLoadErrorsAreConfigurationErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); fieldOf(t, err) != "config" {
		t.Fatalf("missing file: %v", err)
	}
	if _, err := Load(writeFile(t, "scheduler:\n  horizon: soon\n")); fieldOf(t, err) != "config" {
		t.Fatalf("bad duration: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PASSTRACK_STATION_NAME":       "Beira",
		"PASSTRACK_OBJECTS":            "ISS, ,NOAA 18",
		"PASSTRACK_CADENCE":            "2s",
		"PASSTRACK_BACKGROUND_REFRESH": "true",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Station.Name != "Beira" || len(cfg.Objects) != 2 || cfg.Objects[1] != "NOAA 18" {
		t.Fatalf("env not applied: %+v %v", cfg.Station, cfg.Objects)
	}
	if cfg.Tracking.Cadence.Std() != 2*time.Second || !cfg.Scheduler.BackgroundRefresh {
		t.Fatalf("env durations/bools not applied")
	}

	env["PASSTRACK_HORIZON"] = "forever"
	if err := Default().ApplyEnv(lookup); fieldOf(t, err) != "PASSTRACK_HORIZON" {
		t.Fatalf("bad env duration: %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.Backend.SatellitesURL = "http://backend/sats"
		c.Backend.StationsURL = "http://backend/stations"
		return c
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("Validate(valid) = %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"no station source", func(c *Config) {
			c.Backend.StationsURL = ""
			c.Store.Path = ""
		}, "backend.stations_url"},
		{"no element source", func(c *Config) {
			c.Backend.SatellitesURL = ""
			c.Store.Path = ""
			c.Station = StationConfig{Static: true, Name: "x"}
		}, "backend.satellites_url"},
		{"static station out of range", func(c *Config) { c.Station = StationConfig{Static: true, Name: "x", Latitude: 95} }, "station.latitude"},
		{"zero cadence", func(c *Config) { c.Tracking.Cadence = 0 }, "tracking.cadence"},
		{"negative min move", func(c *Config) { c.Tracking.MinMove = -1 }, "tracking.min_move"},
		{"inverted azimuth limits", func(c *Config) {
			c.Tracking.Limits.MinAzimuth = 200
			c.Tracking.Limits.MaxAzimuth = 100
		}, "tracking.limits.azimuth"},
		{"elevation above zenith", func(c *Config) { c.Tracking.Limits.MaxElevation = 100 }, "tracking.limits.elevation"},
		{"unknown driver", func(c *Config) { c.Actuator.Driver = "stepper" }, "actuator.driver"},
		{"half telegram", func(c *Config) { c.Telegram.Token = "t" }, "telegram"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(c)
			if got := fieldOf(t, c.Validate()); got != tc.field {
				t.Fatalf("field = %q, want %q", got, tc.field)
			}
		})
	}
}

func TestStaticStation(t *testing.T) {
	c := Default()
	c.Station = StationConfig{Static: true, Name: "Roof", Latitude: 52.5, Longitude: 13.4, Altitude: 40, MinElevation: 5}
	gs := c.StationModel()
	if !gs.Active || gs.MinElevation != 5 || gs.Altitude != 40 {
		t.Fatalf("StationModel() = %+v", gs)
	}
}
