// Package pool implements the per-host idle connection pool (component
// C5): a LIFO stack of idle Stacks keyed by "host:port", created on miss
// and discarded on fault. It is a trimmed generalization of the teacher's
// hostPool/Transport pooling in pkg/transport/transport.go — same LIFO
// idle slice and sync.Mutex-guarded bookkeeping, minus the proxy-aware
// pool key and the MaxConnsPerHost wait-on-condvar admission control,
// neither of which the spec calls for.
package pool

import (
	"sync"
	"time"

	"github.com/asynchttp/rawclient/internal/constants"
	"github.com/asynchttp/rawclient/internal/stack"
)

// MaxIdlePerHost bounds how many idle Stacks are kept for one host:port.
// Chosen in proportion to the manager's default MaxParallelRequests (25):
// enough idle capacity that a bursty client does not re-dial on every
// request, without pinning dozens of sockets open against one host.
const MaxIdlePerHost = constants.MaxIdlePerHost

// MaxIdleTime is how long an idle Stack may sit before it is considered
// stale and closed rather than handed back out.
const MaxIdleTime = constants.DefaultIdleTimeout

type entry struct {
	s        *stack.Stack
	lastUsed time.Time
}

type hostPool struct {
	mu   sync.Mutex
	idle []entry
}

// Pool is the per-host:port idle connection pool shared by the manager.
type Pool struct {
	hosts sync.Map // map[string]*hostPool

	mu           sync.Mutex
	totalCreated int
	totalReused  int
}

// New returns an empty Pool.
func New() *Pool {
	return &Pool{}
}

func (p *Pool) hostPoolFor(key string) *hostPool {
	v, _ := p.hosts.LoadOrStore(key, &hostPool{})
	return v.(*hostPool)
}

// Acquire pops the most recently released live Stack for key, if any.
// Stale or dead Stacks are discarded as encountered rather than returned.
func (p *Pool) Acquire(key string) (s *stack.Stack, reused bool) {
	hp := p.hostPoolFor(key)
	hp.mu.Lock()
	defer hp.mu.Unlock()

	for len(hp.idle) > 0 {
		n := len(hp.idle)
		e := hp.idle[n-1]
		hp.idle = hp.idle[:n-1]

		if time.Since(e.lastUsed) > MaxIdleTime || !e.s.IsOpen() {
			e.s.Close()
			continue
		}

		p.mu.Lock()
		p.totalReused++
		p.mu.Unlock()
		return e.s, true
	}
	return nil, false
}

// Release returns s to the idle pool for key, or closes it outright when
// the host's idle pool is already at capacity.
func (p *Pool) Release(key string, s *stack.Stack) {
	hp := p.hostPoolFor(key)
	hp.mu.Lock()
	defer hp.mu.Unlock()

	if len(hp.idle) >= MaxIdlePerHost {
		s.Close()
		return
	}
	hp.idle = append(hp.idle, entry{s: s, lastUsed: time.Now()})
}

// Discard closes s without returning it to the idle pool, and purges every
// other idle Stack sharing the same key: a fault on one connection to a
// host is grounds for distrusting the rest, since it is commonly caused by
// the remote end itself (a restart, a load balancer draining).
func (p *Pool) Discard(key string, s *stack.Stack) {
	if s != nil {
		s.Close()
	}
	hp := p.hostPoolFor(key)
	hp.mu.Lock()
	defer hp.mu.Unlock()
	for _, e := range hp.idle {
		e.s.Close()
	}
	hp.idle = nil
}

// NoteCreated records that a new Stack had to be dialed for key, for
// Stats().
func (p *Pool) NoteCreated() {
	p.mu.Lock()
	p.totalCreated++
	p.mu.Unlock()
}

// Stats is a point-in-time snapshot of pool occupancy and lifetime counts.
type Stats struct {
	IdleConns    int
	TotalCreated int
	TotalReused  int
}

// Stats returns the current pool occupancy and lifetime counters.
func (p *Pool) Stats() Stats {
	idle := 0
	p.hosts.Range(func(_, v interface{}) bool {
		hp := v.(*hostPool)
		hp.mu.Lock()
		idle += len(hp.idle)
		hp.mu.Unlock()
		return true
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{IdleConns: idle, TotalCreated: p.totalCreated, TotalReused: p.totalReused}
}

// Close closes every idle Stack across every host, for client shutdown.
func (p *Pool) Close() {
	p.hosts.Range(func(key, v interface{}) bool {
		hp := v.(*hostPool)
		hp.mu.Lock()
		for _, e := range hp.idle {
			e.s.Close()
		}
		hp.idle = nil
		hp.mu.Unlock()
		p.hosts.Delete(key)
		return true
	})
}
