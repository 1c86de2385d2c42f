package actuator

import (
	"context"
	"sync"

	"github.com/signalsfoundry/passtrack/internal/logging"
	"github.com/signalsfoundry/passtrack/model"
)

// DryRun logs commands instead of moving hardware.
type DryRun struct {
	log logging.Logger

	mu    sync.Mutex
	last  model.Command
	moves int
}

// NewDryRun constructs a DryRun actuator.
func NewDryRun(log logging.Logger) *DryRun {
	if log == nil {
		log = logging.Noop()
	}
	return &DryRun{log: log}
}

// Move records and logs the command.
func (d *DryRun) Move(ctx context.Context, azimuth, elevation float64) error {
	d.mu.Lock()
	d.last = model.Command{Azimuth: azimuth, Elevation: elevation}
	d.moves++
	d.mu.Unlock()

	d.log.Info(ctx, "dry-run antenna move",
		logging.Float64("azimuth", azimuth),
		logging.Float64("elevation", elevation),
	)
	return nil
}

// Last returns the most recent command and the number of moves so far.
func (d *DryRun) Last() (model.Command, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.moves
}

// Close is a no-op.
func (d *DryRun) Close() error { return nil }
