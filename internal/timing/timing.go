// Package timing measures per-request latency phases and transfer byte
// counts, generalizing the teacher's phase-timer design to the stats fields
// a completed Result reports.
package timing

import (
	"sync/atomic"
	"time"
)

// Stats captures the timing and throughput figures attached to every Result.
type Stats struct {
	TotalTime      time.Duration
	NameLookupTime time.Duration
	BytesUp        int64
	BytesDown      int64
	AvgUpBps       float64
	AvgDownBps     float64
}

// Timer accumulates phase timestamps and byte counters for one request.
// BytesUp/BytesDown are updated from whatever goroutine drains/fills the
// body, so they are kept atomic.
type Timer struct {
	start    time.Time
	dnsStart time.Time
	dnsEnd   time.Time

	bytesUp   int64
	bytesDown int64
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) StartDNS() { t.dnsStart = time.Now() }
func (t *Timer) EndDNS()   { t.dnsEnd = time.Now() }

func (t *Timer) AddBytesUp(n int)   { atomic.AddInt64(&t.bytesUp, int64(n)) }
func (t *Timer) AddBytesDown(n int) { atomic.AddInt64(&t.bytesDown, int64(n)) }

// Stats computes the final Stats snapshot. Call once, at completion.
func (t *Timer) Stats() Stats {
	total := time.Since(t.start)
	s := Stats{
		TotalTime: total,
		BytesUp:   atomic.LoadInt64(&t.bytesUp),
		BytesDown: atomic.LoadInt64(&t.bytesDown),
	}
	if !t.dnsStart.IsZero() && !t.dnsEnd.IsZero() {
		s.NameLookupTime = t.dnsEnd.Sub(t.dnsStart)
	}
	seconds := total.Seconds()
	if seconds > 0 {
		s.AvgUpBps = float64(s.BytesUp) / seconds
		s.AvgDownBps = float64(s.BytesDown) / seconds
	}
	return s
}
