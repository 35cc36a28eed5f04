package statspb

import "testing"

func TestHeartbeatRoundTrip(t *testing.T) {
	h := Heartbeat{
		Pid:    4242,
		Status: "started",
		Stats: []MethodStat{
			{Name: "echo", Calls: 10, WallNanos: 12345},
			{Name: "json_echo", Calls: 3, WallNanos: 999},
		},
	}

	out, err := Unmarshal(h.Marshal())
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Pid != h.Pid || out.Status != h.Status {
		t.Fatalf("got %+v, want %+v", out, h)
	}
	if len(out.Stats) != 2 {
		t.Fatalf("expected 2 stats, got %d", len(out.Stats))
	}
	for i, s := range h.Stats {
		if out.Stats[i] != s {
			t.Fatalf("stat %d: got %+v, want %+v", i, out.Stats[i], s)
		}
	}
}

func TestHeartbeatZeroValueOmitsFields(t *testing.T) {
	b := Heartbeat{}.Marshal()
	if len(b) != 0 {
		t.Fatalf("expected empty encoding for zero-value message, got %d bytes", len(b))
	}
}
