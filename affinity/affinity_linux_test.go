//go:build linux
// +build linux

package affinity_test

import (
	"testing"

	"github.com/momentics/hioload-ripc/affinity"
)

func TestPin(t *testing.T) {
	allowed, err := affinity.Current()
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if len(allowed) == 0 {
		t.Skip("no cpu reported")
	}
	cpu := allowed[len(allowed)-1]

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := affinity.Pin(cpu); err != nil {
			t.Errorf("pin %d: %v", cpu, err)
			return
		}
		got, err := affinity.Current()
		if err != nil {
			t.Errorf("current after pin: %v", err)
			return
		}
		if len(got) != 1 || got[0] != cpu {
			t.Errorf("pinned set = %v, want [%d]", got, cpu)
		}
	}()
	<-done
}

func TestPin_OutOfRange(t *testing.T) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := affinity.Pin(-1); err == nil {
			t.Error("negative cpu accepted")
		}
		if err := affinity.Pin(1 << 20); err == nil {
			t.Error("cpu beyond the mask accepted")
		}
	}()
	<-done
}
