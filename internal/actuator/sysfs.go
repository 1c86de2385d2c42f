package actuator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultPWMChip is the first PWM controller exposed by the kernel.
const DefaultPWMChip = "/sys/class/pwm/pwmchip0"

const exportSettle = 100 * time.Millisecond

// SysfsPWM writes one channel of a Linux PWM chip through sysfs.
type SysfsPWM struct {
	dir      string
	periodNs int64
}

// OpenSysfsPWM exports channel on chip if needed, sets a 50 Hz period and
// enables the output.
func OpenSysfsPWM(ctx context.Context, chip string, channel int) (*SysfsPWM, error) {
	dir := filepath.Join(chip, fmt.Sprintf("pwm%d", channel))
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if err := writeAttr(filepath.Join(chip, "export"), strconv.Itoa(channel)); err != nil {
			return nil, fmt.Errorf("export pwm channel %d: %w", channel, err)
		}
		// udev needs a moment to apply permissions on the new channel.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(exportSettle):
		}
	}

	p := &SysfsPWM{dir: dir, periodNs: int64(time.Second) / ServoFrequencyHz}
	if err := writeAttr(filepath.Join(dir, "period"), strconv.FormatInt(p.periodNs, 10)); err != nil {
		return nil, fmt.Errorf("set pwm period: %w", err)
	}
	if err := writeAttr(filepath.Join(dir, "enable"), "1"); err != nil {
		return nil, fmt.Errorf("enable pwm channel %d: %w", channel, err)
	}
	return p, nil
}

// SetDuty implements DutyWriter.
func (p *SysfsPWM) SetDuty(_ context.Context, percent float64) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("duty cycle %.2f%% out of range", percent)
	}
	ns := int64(float64(p.periodNs) * percent / 100)
	return writeAttr(filepath.Join(p.dir, "duty_cycle"), strconv.FormatInt(ns, 10))
}

// Close disables the output.
func (p *SysfsPWM) Close() error {
	return writeAttr(filepath.Join(p.dir, "enable"), "0")
}

func writeAttr(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	_, err = f.WriteString(strings.TrimSpace(value))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
