package obsmetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistersAgainstCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	orig := prometheus.DefaultRegisterer
	prometheus.DefaultRegisterer = reg
	defer func() { prometheus.DefaultRegisterer = orig }()

	m := New()
	if m == nil {
		t.Fatal("expected Metrics, got nil")
	}
	if m.ActiveChannels == nil {
		t.Error("expected ActiveChannels to be initialized")
	}
	if m.ReducerDispatch == nil {
		t.Error("expected ReducerDispatch to be initialized")
	}

	m.MessagesSent.WithLabelValues("channel/sync-request").Inc()
	if got := testCounterValue(t, reg, "driftsync_messages_sent_total"); got != 1 {
		t.Errorf("expected 1 sample family, got %d", got)
	}
}

func testCounterValue(t *testing.T, reg *prometheus.Registry, name string) int {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	count := 0
	for _, f := range families {
		if f.GetName() == name {
			count += len(f.GetMetric())
		}
	}
	return count
}
