// Package config loads the passtrack configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/passtrack/core"
	"github.com/signalsfoundry/passtrack/internal/actuator"
	"github.com/signalsfoundry/passtrack/internal/elements"
	"github.com/signalsfoundry/passtrack/internal/notify"
	"github.com/signalsfoundry/passtrack/internal/scheduler"
	"github.com/signalsfoundry/passtrack/internal/supervisor"
	"github.com/signalsfoundry/passtrack/internal/tracker"
	"github.com/signalsfoundry/passtrack/model"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PASSTRACK_"

// Config is the daemon configuration.
type Config struct {
	Station   StationConfig   `yaml:"station"`
	Objects   []string        `yaml:"objects"`
	Backend   BackendConfig   `yaml:"backend"`
	Store     StoreConfig     `yaml:"store"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Actuator  ActuatorConfig  `yaml:"actuator"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Metrics   ListenConfig    `yaml:"metrics"`
	Health    ListenConfig    `yaml:"health"`
}

// StationConfig names the ground station. With Static set the coordinates
// below are used instead of the backend's station list.
type StationConfig struct {
	Name         string  `yaml:"name"`
	Static       bool    `yaml:"static"`
	Latitude     float64 `yaml:"latitude"`
	Longitude    float64 `yaml:"longitude"`
	Altitude     float64 `yaml:"altitude"`
	MinElevation float64 `yaml:"min_elevation"`
}

// BackendConfig points at the station backend.
type BackendConfig struct {
	SatellitesURL  string   `yaml:"satellites_url"`
	StationsURL    string   `yaml:"stations_url"`
	RequestTimeout Duration `yaml:"request_timeout"`
	RetryElapsed   Duration `yaml:"retry_elapsed"`
}

// StoreConfig locates the local SQLite copy of the backend data.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// SchedulerConfig tunes pass selection and catalog refreshes.
type SchedulerConfig struct {
	Horizon           Duration `yaml:"horizon"`
	RefreshInterval   Duration `yaml:"refresh_interval"`
	RefreshRetry      Duration `yaml:"refresh_retry"`
	FetchTimeout      Duration `yaml:"fetch_timeout"`
	IdleSleep         Duration `yaml:"idle_sleep"`
	BackgroundRefresh bool     `yaml:"background_refresh"`
}

// TrackingConfig tunes the tracking loop.
type TrackingConfig struct {
	Cadence    Duration     `yaml:"cadence"`
	MinMove    float64      `yaml:"min_move"`
	StaleAfter Duration     `yaml:"stale_after"`
	Limits     LimitsConfig `yaml:"limits"`
}

// LimitsConfig bounds actuator commands in degrees.
type LimitsConfig struct {
	MinAzimuth   float64 `yaml:"min_azimuth"`
	MaxAzimuth   float64 `yaml:"max_azimuth"`
	MinElevation float64 `yaml:"min_elevation"`
	MaxElevation float64 `yaml:"max_elevation"`
}

// ActuatorConfig selects the pointing driver.
type ActuatorConfig struct {
	Driver           string  `yaml:"driver"`
	PWMChip          string  `yaml:"pwm_chip"`
	AzimuthChannel   int     `yaml:"azimuth_channel"`
	ElevationChannel int     `yaml:"elevation_channel"`
	ElevationOffset  float64 `yaml:"elevation_offset"`
}

// TelegramConfig enables pass notifications when both values are set.
type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID string `yaml:"chat_id"`
}

// ListenConfig is a listen address; empty disables the server.
type ListenConfig struct {
	Addr string `yaml:"addr"`
}

// Duration is a time.Duration written as a Go duration string ("90s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a string like \"90s\"", value.Line)
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the configuration used when no file is given.
func Default() *Config {
	limits := model.DefaultLimits()
	return &Config{
		Backend: BackendConfig{
			RequestTimeout: Duration(10 * time.Second),
			RetryElapsed:   Duration(time.Minute),
		},
		Store: StoreConfig{Path: "passtrack.db"},
		Scheduler: SchedulerConfig{
			Horizon:         Duration(scheduler.DefaultHorizon),
			RefreshInterval: Duration(supervisor.DefaultRefreshInterval),
			RefreshRetry:    Duration(supervisor.DefaultRefreshRetry),
			FetchTimeout:    Duration(scheduler.DefaultFetchTimeout),
			IdleSleep:       Duration(supervisor.DefaultIdleSleep),
		},
		Tracking: TrackingConfig{
			Cadence:    Duration(supervisor.DefaultCadence),
			MinMove:    tracker.DefaultMinMove,
			StaleAfter: Duration(core.DefaultStaleAfter),
			Limits: LimitsConfig{
				MinAzimuth:   limits.MinAzimuth,
				MaxAzimuth:   limits.MaxAzimuth,
				MinElevation: limits.MinElevation,
				MaxElevation: limits.MaxElevation,
			},
		},
		Actuator: ActuatorConfig{
			Driver:           actuator.DriverDryRun,
			AzimuthChannel:   0,
			ElevationChannel: 1,
			ElevationOffset:  actuator.DefaultElevationOffset,
		},
		Metrics: ListenConfig{Addr: ":9090"},
		Health:  ListenConfig{Addr: ":50051"},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path uses the defaults only. Every failure is a
// *model.ConfigurationError.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &model.ConfigurationError{Field: "config", Reason: err.Error()}
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &model.ConfigurationError{Field: "config", Reason: fmt.Sprintf("parse %s: %v", path, err)}
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from PASSTRACK_* variables resolved by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	dur := func(name string, dst *Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, &model.ConfigurationError{Field: EnvPrefix + name, Reason: err.Error()})
				return
			}
			*dst = Duration(d)
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, &model.ConfigurationError{Field: EnvPrefix + name, Reason: err.Error()})
				return
			}
			*dst = b
		}
	}

	str("STATION_NAME", &c.Station.Name)
	if v, ok := lookup(EnvPrefix + "OBJECTS"); ok {
		c.Objects = splitList(v)
	}
	str("SATELLITES_URL", &c.Backend.SatellitesURL)
	str("STATIONS_URL", &c.Backend.StationsURL)
	str("STORE_PATH", &c.Store.Path)
	str("ACTUATOR_DRIVER", &c.Actuator.Driver)
	str("TELEGRAM_TOKEN", &c.Telegram.Token)
	str("TELEGRAM_CHAT_ID", &c.Telegram.ChatID)
	str("METRICS_ADDR", &c.Metrics.Addr)
	str("HEALTH_ADDR", &c.Health.Addr)
	dur("HORIZON", &c.Scheduler.Horizon)
	dur("REFRESH_INTERVAL", &c.Scheduler.RefreshInterval)
	dur("CADENCE", &c.Tracking.Cadence)
	boolean("BACKGROUND_REFRESH", &c.Scheduler.BackgroundRefresh)

	return errors.Join(errs...)
}

// Validate checks the configuration before anything is started.
func (c *Config) Validate() error {
	if c.Station.Static {
		if err := c.StationModel().Validate(); err != nil {
			return err
		}
	} else if c.Backend.StationsURL == "" && c.Store.Path == "" {
		return &model.ConfigurationError{Field: "backend.stations_url", Reason: "required unless station.static is set or a store is configured"}
	}
	if c.Backend.SatellitesURL == "" && c.Store.Path == "" {
		return &model.ConfigurationError{Field: "backend.satellites_url", Reason: "required when no store is configured"}
	}

	positive := []struct {
		field string
		d     Duration
	}{
		{"scheduler.horizon", c.Scheduler.Horizon},
		{"scheduler.refresh_interval", c.Scheduler.RefreshInterval},
		{"scheduler.refresh_retry", c.Scheduler.RefreshRetry},
		{"scheduler.fetch_timeout", c.Scheduler.FetchTimeout},
		{"scheduler.idle_sleep", c.Scheduler.IdleSleep},
		{"tracking.cadence", c.Tracking.Cadence},
		{"tracking.stale_after", c.Tracking.StaleAfter},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return &model.ConfigurationError{Field: p.field, Reason: "must be positive"}
		}
	}
	if c.Tracking.MinMove < 0 {
		return &model.ConfigurationError{Field: "tracking.min_move", Reason: "must not be negative"}
	}
	l := c.Tracking.Limits
	if l.MinAzimuth >= l.MaxAzimuth || l.MinAzimuth < 0 || l.MaxAzimuth > 360 {
		return &model.ConfigurationError{Field: "tracking.limits.azimuth", Reason: "must satisfy 0 <= min < max <= 360"}
	}
	if l.MinElevation >= l.MaxElevation || l.MinElevation < 0 || l.MaxElevation > 90 {
		return &model.ConfigurationError{Field: "tracking.limits.elevation", Reason: "must satisfy 0 <= min < max <= 90"}
	}
	switch c.Actuator.Driver {
	case actuator.DriverDryRun, actuator.DriverServo:
	default:
		return &model.ConfigurationError{Field: "actuator.driver", Reason: fmt.Sprintf("unknown driver %q", c.Actuator.Driver)}
	}
	if (c.Telegram.Token == "") != (c.Telegram.ChatID == "") {
		return &model.ConfigurationError{Field: "telegram", Reason: "token and chat_id must be set together"}
	}
	return nil
}

// StationModel returns the statically configured station.
func (c *Config) StationModel() model.GroundStation {
	return model.GroundStation{
		Name:         c.Station.Name,
		Latitude:     c.Station.Latitude,
		Longitude:    c.Station.Longitude,
		Altitude:     c.Station.Altitude,
		MinElevation: c.Station.MinElevation,
		Active:       true,
	}
}

// ClientConfig returns the backend client settings.
func (c *Config) ClientConfig() elements.ClientConfig {
	return elements.ClientConfig{
		SatellitesURL:  c.Backend.SatellitesURL,
		StationsURL:    c.Backend.StationsURL,
		RequestTimeout: c.Backend.RequestTimeout.Std(),
		RetryElapsed:   c.Backend.RetryElapsed.Std(),
	}
}

// SchedulerConfig returns the scheduler settings.
func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Horizon:      c.Scheduler.Horizon.Std(),
		FetchTimeout: c.Scheduler.FetchTimeout.Std(),
	}
}

// SupervisorConfig returns the supervisor settings for station.
func (c *Config) SupervisorConfig(station model.GroundStation) supervisor.Config {
	l := c.Tracking.Limits
	return supervisor.Config{
		Station:           station,
		ObjectIDs:         append([]string(nil), c.Objects...),
		Horizon:           c.Scheduler.Horizon.Std(),
		RefreshInterval:   c.Scheduler.RefreshInterval.Std(),
		RefreshRetry:      c.Scheduler.RefreshRetry.Std(),
		IdleSleep:         c.Scheduler.IdleSleep.Std(),
		Cadence:           c.Tracking.Cadence.Std(),
		BackgroundRefresh: c.Scheduler.BackgroundRefresh,
		Tracker: tracker.Config{
			MinMove: c.Tracking.MinMove,
			Limits: model.Limits{
				MinAzimuth:   l.MinAzimuth,
				MaxAzimuth:   l.MaxAzimuth,
				MinElevation: l.MinElevation,
				MaxElevation: l.MaxElevation,
			},
		},
	}
}

// ActuatorConfig returns the driver settings.
func (c *Config) ActuatorConfig() actuator.Config {
	return actuator.Config{
		Driver:           c.Actuator.Driver,
		PWMChip:          c.Actuator.PWMChip,
		AzimuthChannel:   c.Actuator.AzimuthChannel,
		ElevationChannel: c.Actuator.ElevationChannel,
		ElevationOffset:  c.Actuator.ElevationOffset,
	}
}

// TelegramConfig returns the notifier settings.
func (c *Config) TelegramConfig() notify.TelegramConfig {
	return notify.TelegramConfig{Token: c.Telegram.Token, ChatID: c.Telegram.ChatID}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
