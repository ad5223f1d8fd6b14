package timing_test

import (
	"testing"
	"time"

	"github.com/asynchttp/rawclient/internal/timing"
)

func TestTimer_Stats_BytesAndTotalTime(t *testing.T) {
	tm := timing.NewTimer()
	tm.AddBytesUp(100)
	tm.AddBytesDown(200)
	time.Sleep(10 * time.Millisecond)

	stats := tm.Stats()
	if stats.BytesUp != 100 {
		t.Errorf("BytesUp = %d, want 100", stats.BytesUp)
	}
	if stats.BytesDown != 200 {
		t.Errorf("BytesDown = %d, want 200", stats.BytesDown)
	}
	if stats.TotalTime <= 0 {
		t.Errorf("TotalTime = %v, want > 0", stats.TotalTime)
	}
	if stats.AvgDownBps <= 0 {
		t.Errorf("AvgDownBps = %v, want > 0", stats.AvgDownBps)
	}
}

func TestTimer_DNSPhase(t *testing.T) {
	tm := timing.NewTimer()
	tm.StartDNS()
	time.Sleep(5 * time.Millisecond)
	tm.EndDNS()

	stats := tm.Stats()
	if stats.NameLookupTime <= 0 {
		t.Errorf("NameLookupTime = %v, want > 0", stats.NameLookupTime)
	}
}

func TestTimer_NoDNSPhaseLeavesZero(t *testing.T) {
	tm := timing.NewTimer()
	stats := tm.Stats()
	if stats.NameLookupTime != 0 {
		t.Errorf("NameLookupTime = %v, want 0 when DNS phase never ran", stats.NameLookupTime)
	}
}
