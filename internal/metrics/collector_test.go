package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

type fakeStats struct{}

func (fakeStats) InFlight() int           { return 2 }
func (fakeStats) WatcherOffset() int64    { return 4096 }
func (fakeStats) RecentResponses() int    { return 3 }
func (fakeStats) SpeechQueueDepth() int   { return 1 }
func (fakeStats) SSESubscriberCount() int { return 5 }

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(nil, fakeStats{}))

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	got := map[string]float64{}
	for _, f := range families {
		got[f.GetName()] = f.GetMetric()[0].GetGauge().GetValue()
	}

	want := map[string]float64{
		"copilot_orchestrations_in_flight":  2,
		"copilot_watcher_offset_bytes":      4096,
		"copilot_feedback_recent_responses": 3,
		"copilot_speech_queue_depth":        1,
		"copilot_sse_subscribers_active":    5,
		"copilot_db_pool_total_conns":       0,
	}
	for name, v := range want {
		if got[name] != v {
			t.Errorf("%s = %v, want %v", name, got[name], v)
		}
	}
	for name := range got {
		if !strings.HasPrefix(name, "copilot_") {
			t.Errorf("metric %s outside namespace", name)
		}
	}
}

func TestCollectorNilStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(nil, nil))
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) != 8 {
		t.Errorf("got %d families, want 8", len(families))
	}
}
