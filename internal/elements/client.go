package elements

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/signalsfoundry/passtrack/internal/logging"
	"github.com/signalsfoundry/passtrack/model"
)

// OrbitStatusOrbiting is the only orbit status that is ingested.
const OrbitStatusOrbiting = "orbiting"

const (
	defaultRequestTimeout = 10 * time.Second
	defaultRetryElapsed   = time.Minute
)

// SatelliteRecord is one entry of the satellites endpoint.
type SatelliteRecord struct {
	Name         string `json:"name"`
	Line1        string `json:"line1"`
	Line2        string `json:"line2"`
	Group        string `json:"tle_group"`
	AutoTracking bool   `json:"auto_tracking"`
	OrbitStatus  string `json:"orbit_status"`
	CreatedAt    string `json:"created_at"`
	LastUpdated  string `json:"last_updated"`
}

// StationRecord is one entry of the ground stations endpoint. Decimal
// columns may arrive as JSON strings.
type StationRecord struct {
	Name                   string    `json:"name"`
	Latitude               flexFloat `json:"latitude"`
	Longitude              flexFloat `json:"longitude"`
	Altitude               flexFloat `json:"altitude"`
	StartTrackingElevation flexFloat `json:"start_tracking_elevation"`
	IsActive               bool      `json:"is_active"`
}

// Trackable reports whether the satellite should be scheduled.
func (r SatelliteRecord) Trackable() bool {
	return r.OrbitStatus == OrbitStatusOrbiting && r.AutoTracking
}

// ElementSet converts the record, validating both lines.
func (r SatelliteRecord) ElementSet() (model.ElementSet, error) {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return model.ElementSet{}, fmt.Errorf("%w: satellite without name", ErrInvalidTLE)
	}
	l1, l2 := strings.TrimSpace(r.Line1), strings.TrimSpace(r.Line2)
	if err := ValidateLines(l1, l2); err != nil {
		return model.ElementSet{}, fmt.Errorf("satellite %q: %w", name, err)
	}
	norad, err := NoradID(l1)
	if err != nil {
		return model.ElementSet{}, fmt.Errorf("satellite %q: %w", name, err)
	}
	epoch, err := Epoch(l1)
	if err != nil {
		return model.ElementSet{}, fmt.Errorf("satellite %q: %w", name, err)
	}
	return model.ElementSet{
		ObjectID:     name,
		NoradID:      norad,
		Line1:        l1,
		Line2:        l2,
		Epoch:        epoch,
		Group:        r.Group,
		AutoTracking: r.AutoTracking,
		OrbitStatus:  r.OrbitStatus,
		CreatedAt:    parseTimestamp(r.CreatedAt),
		UpdatedAt:    parseTimestamp(r.LastUpdated),
	}, nil
}

// GroundStation converts the record.
func (r StationRecord) GroundStation() model.GroundStation {
	return model.GroundStation{
		Name:         strings.TrimSpace(r.Name),
		Latitude:     float64(r.Latitude),
		Longitude:    float64(r.Longitude),
		Altitude:     float64(r.Altitude),
		MinElevation: float64(r.StartTrackingElevation),
		Active:       r.IsActive,
	}
}

// ClientConfig points the client at the station backend.
type ClientConfig struct {
	SatellitesURL  string
	StationsURL    string
	RequestTimeout time.Duration
	// RetryElapsed bounds the total time spent retrying one request.
	RetryElapsed time.Duration
}

// Client reads satellites and ground stations from the station backend.
type Client struct {
	cfg  ClientConfig
	http *http.Client
	log  logging.Logger

	newBackOff func() backoff.BackOff
}

// NewClient constructs a client. A nil httpClient selects one with the
// configured request timeout.
func NewClient(cfg ClientConfig, httpClient *http.Client, log logging.Logger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.RetryElapsed <= 0 {
		cfg.RetryElapsed = defaultRetryElapsed
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	if log == nil {
		log = logging.Noop()
	}
	c := &Client{cfg: cfg, http: httpClient, log: log}
	c.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = c.cfg.RetryElapsed
		return b
	}
	return c
}

// Satellites fetches every satellite record, trackable or not.
func (c *Client) Satellites(ctx context.Context) ([]SatelliteRecord, error) {
	var out []SatelliteRecord
	if err := c.getJSON(ctx, c.cfg.SatellitesURL, &out); err != nil {
		return nil, fmt.Errorf("fetch satellites: %w", err)
	}
	return out, nil
}

// TrackableElements fetches satellites and converts the trackable ones.
// Records with malformed lines are logged and skipped.
func (c *Client) TrackableElements(ctx context.Context) ([]model.ElementSet, error) {
	records, err := c.Satellites(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.ElementSet, 0, len(records))
	for _, r := range records {
		if !r.Trackable() {
			continue
		}
		es, err := r.ElementSet()
		if err != nil {
			c.log.Warn(ctx, "skipping satellite record", logging.String("name", r.Name), logging.Err(err))
			continue
		}
		out = append(out, es)
	}
	return out, nil
}

// GroundStations fetches every ground station.
func (c *Client) GroundStations(ctx context.Context) ([]model.GroundStation, error) {
	var records []StationRecord
	if err := c.getJSON(ctx, c.cfg.StationsURL, &records); err != nil {
		return nil, fmt.Errorf("fetch ground stations: %w", err)
	}
	out := make([]model.GroundStation, 0, len(records))
	for _, r := range records {
		out = append(out, r.GroundStation())
	}
	return out, nil
}

// getJSON GETs url into v, retrying transport errors and 5xx responses with
// exponential backoff. 4xx responses and undecodable bodies are permanent.
func (c *Client) getJSON(ctx context.Context, url string, v any) error {
	if url == "" {
		return fmt.Errorf("no endpoint configured")
	}

	attempt := 0
	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			statusErr := fmt.Errorf("GET %s: %s: %s", url, resp.Status, strings.TrimSpace(string(body)))
			if resp.StatusCode < 500 {
				return backoff.Permanent(statusErr)
			}
			return statusErr
		}
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s: %w", url, err))
		}
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.log.Warn(ctx, "backend request failed, retrying",
			logging.String("url", url),
			logging.Int("attempt", attempt),
			logging.Duration("wait", wait),
			logging.Err(err),
		)
	}
	return backoff.RetryNotify(op, backoff.WithContext(c.newBackOff(), ctx), notify)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTimestamp accepts the backend's timestamp formats; unparseable
// values yield the zero time.
func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// flexFloat decodes a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %s", b)
	}
	*f = flexFloat(v)
	return nil
}
