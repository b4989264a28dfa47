package transport_test

import (
	"testing"
	"time"

	"github.com/momentics/hioload-ripc/transport"
)

func TestPingMonitor_Schedule(t *testing.T) {
	start := time.Unix(1000, 0)
	m := transport.NewPingMonitor(30*time.Second, start)
	if got := m.NextSend().Sub(start); got != 10*time.Second {
		t.Fatalf("first heartbeat after %s, want 10s", got)
	}
	if got := m.Deadline().Sub(start); got != 30*time.Second {
		t.Fatalf("deadline after %s, want 30s", got)
	}

	steps := []struct {
		at       time.Duration
		sent     bool
		received bool
		sendDue  bool
		timedOut bool
	}{
		{at: 5 * time.Second},
		{at: 10 * time.Second, sendDue: true},
		// outbound data stands in for the heartbeat
		{at: 20 * time.Second, sent: true},
		{at: 30 * time.Second, received: true, sendDue: true},
		{at: 45 * time.Second, sendDue: true},
		{at: 60 * time.Second, sendDue: true, timedOut: true},
	}
	for _, st := range steps {
		if st.sent {
			m.Sent()
		}
		if st.received {
			m.Received()
		}
		sendDue, timedOut := m.Tick(start.Add(st.at))
		if sendDue != st.sendDue || timedOut != st.timedOut {
			t.Errorf("at %s: sendDue=%v timedOut=%v, want %v %v", st.at, sendDue, timedOut, st.sendDue, st.timedOut)
		}
	}
}

func TestPingMonitor_TrafficKeepsPeerAlive(t *testing.T) {
	start := time.Unix(0, 0)
	m := transport.NewPingMonitor(3*time.Second, start)
	for i := 1; i <= 10; i++ {
		m.Received()
		if _, timedOut := m.Tick(start.Add(time.Duration(i) * time.Second)); timedOut {
			t.Fatalf("timed out at %ds despite traffic", i)
		}
	}
}
