package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalsfoundry/passtrack/internal/elements"
	"github.com/signalsfoundry/passtrack/model"
)

const (
	issLine1 = "1 25544U 98067A   25138.37048074  .00007749  00000+0  14567-3 0  9994"
	issLine2 = "2 25544  51.6369  94.7823 0002558 120.7586  15.7840 15.49587957510533"

	issEpoch = "2025-05-18T08:53:29Z"
)

// writeStation writes a config for a static Berlin station backed by a store
// holding the ISS element set. It returns the config path.
func writeStation(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "passtrack.db")

	store, err := elements.OpenStore(dbPath)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	es, err := elements.SatelliteRecord{
		Name: "ISS", Line1: issLine1, Line2: issLine2,
		AutoTracking: true, OrbitStatus: elements.OrbitStatusOrbiting,
	}.ElementSet()
	if err != nil {
		t.Fatalf("ElementSet: %v", err)
	}
	if err := store.SaveElements(context.Background(), []model.ElementSet{es}); err != nil {
		t.Fatalf("SaveElements: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	cfg := fmt.Sprintf(`station:
  name: Berlin
  static: true
  latitude: 52.52
  longitude: 13.405
  altitude: 34
  min_elevation: 0
store:
  path: %s
metrics:
  addr: ""
health:
  addr: ""
`, dbPath)
	path := filepath.Join(dir, "passtrack.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestExecuteReportsConfigurationErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := execute([]string{"passes", "--config", filepath.Join(t.TempDir(), "missing.yaml")}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "config") {
		t.Fatalf("stderr = %q, want configuration error", stderr.String())
	}
}

func TestExecuteRejectsBadFromFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := execute([]string{"passes", "--config", writeStation(t), "--from", "yesterday"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "--from") {
		t.Fatalf("stderr = %q, want --from error", stderr.String())
	}
}

func TestPassesListsStoredObjects(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := execute([]string{"passes", "-c", writeStation(t), "--from", issEpoch, "--hours", "24"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr.String())
	}
	out := stdout.String()
	if !strings.Contains(out, "Passes over Berlin") {
		t.Fatalf("missing header:\n%s", out)
	}
	if !strings.Contains(out, "ISS") {
		t.Fatalf("no ISS pass listed:\n%s", out)
	}
}

func TestSimulateTracksPasses(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := execute([]string{"simulate", "-c", writeStation(t), "--start", issEpoch, "--duration", "24h"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr.String())
	}
	out := stdout.String()
	if !strings.Contains(out, "ISS") {
		t.Fatalf("no ISS session reported:\n%s", out)
	}
	if strings.Contains(out, "\n0 passes tracked") {
		t.Fatalf("no passes tracked:\n%s", out)
	}
}
