package probe

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestMonitor(maxAge time.Duration) *Monitor {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewMonitor(maxAge, log)
}

func TestMonitorRecordTracksConsecutiveFailures(t *testing.T) {
	m := newTestMonitor(time.Hour)

	m.Record("openaq", false)
	m.Record("openaq", false)

	statuses := m.Statuses()
	if len(statuses) != 1 {
		t.Fatalf("expected one entry, got %+v", statuses)
	}
	if statuses[0].Healthy || statuses[0].Failures != 2 {
		t.Fatalf("expected two consecutive failures, got %+v", statuses[0])
	}

	m.Record("openaq", true)
	statuses = m.Statuses()
	if !statuses[0].Healthy || statuses[0].Failures != 0 {
		t.Fatalf("a success must reset the failure streak, got %+v", statuses[0])
	}
}

func TestMonitorStatusesSorted(t *testing.T) {
	m := newTestMonitor(time.Hour)

	m.Record("merra2_wind", true)
	m.Record("airnow", true)
	m.Record("gibs", false)

	statuses := m.Statuses()
	if len(statuses) != 3 {
		t.Fatalf("expected three entries, got %+v", statuses)
	}
	for i := 1; i < len(statuses); i++ {
		if statuses[i-1].Provider > statuses[i].Provider {
			t.Fatalf("statuses not sorted by provider: %+v", statuses)
		}
	}
}

func TestMonitorSweepDropsStaleEntries(t *testing.T) {
	m := newTestMonitor(30 * time.Minute)

	base := time.Date(2025, 10, 5, 13, 0, 0, 0, time.UTC)
	now := base
	m.now = func() time.Time { return now }

	m.Record("openaq", true)

	now = base.Add(10 * time.Minute)
	m.Record("airnow", true)

	now = base.Add(45 * time.Minute)
	m.sweep()

	statuses := m.Statuses()
	if len(statuses) != 1 || statuses[0].Provider != "airnow" {
		t.Fatalf("expected only the fresh entry to survive, got %+v", statuses)
	}
}

func TestMonitorSweepKeepsEverythingWithoutMaxAge(t *testing.T) {
	m := newTestMonitor(0)

	base := time.Date(2025, 10, 5, 13, 0, 0, 0, time.UTC)
	now := base
	m.now = func() time.Time { return now }

	m.Record("openaq", true)

	now = base.Add(24 * time.Hour)
	m.sweep()

	if len(m.Statuses()) != 1 {
		t.Fatal("entries must not expire when maxAge is unset")
	}
}
