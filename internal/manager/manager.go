// Package manager implements component C6: the request manager. It is the
// single serialized executor the spec describes — one loop goroutine owns
// every mutation of the in-flight request table and the connection pool —
// while the blocking socket I/O for each request runs on its own
// per-request goroutine that reports back to the loop only by posting a
// command on a channel. This is the Go-idiomatic rendering of a reactor
// scheduling I/O and resuming on completion: net/http's persistConn uses
// the same split between a dedicated per-connection goroutine and a
// result channel the caller selects on.
package manager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/asynchttp/rawclient/internal/dispatch"
	"github.com/asynchttp/rawclient/internal/pool"
	"github.com/asynchttp/rawclient/internal/reqres"
	"github.com/asynchttp/rawclient/internal/stack"
	"github.com/asynchttp/rawclient/internal/timing"
	"github.com/asynchttp/rawclient/internal/urlx"
	"github.com/asynchttp/rawclient/internal/xerrors"
)

// Settings controls admission and retry behavior.
type Settings struct {
	// MaxParallelRequests bounds how many requests may be InProgress (a
	// Stack dialed or checked out of the pool and actively doing I/O) at
	// once. Further admissible requests wait.
	MaxParallelRequests int

	// MaxAttempts bounds how many times one logical request may be tried,
	// counting the first attempt: a transient transport fault or a 3xx
	// redirect each consume one attempt.
	MaxAttempts int
}

// DefaultSettings mirrors the original implementation's defaults.
func DefaultSettings() Settings {
	return Settings{MaxParallelRequests: 25, MaxAttempts: 5}
}

// state is the admission state of one table entry. The ordering
// WaitingRetry < Waiting < InProgress is significant: it is the priority
// order the loop scans the waiting queue in when a slot frees up, so a
// request that has already been dialed once and needs a retry is
// rescheduled ahead of brand new requests.
type state int

const (
	stateWaitingRetry state = iota
	stateWaiting
	stateInProgress
)

type entry struct {
	id          uint64
	req         reqres.Request
	handler     func(reqres.Result)
	executor    dispatch.Executor
	cancelToken string

	state     state
	attempt   int
	createdAt time.Time

	cancel context.CancelFunc // aborts the in-flight I/O goroutine, if any
}

// cmd is the sum type of everything posted onto the loop's channel.
type cmd interface{ isCmd() }

type cmdExecute struct {
	req         reqres.Request
	handler     func(reqres.Result)
	executor    dispatch.Executor
	cancelToken string
	replyID     chan uint64
}

type cmdCancel struct{ token string }

type cmdCompleted struct {
	id        uint64
	result    reqres.Result
	keepAlive bool
	fatal     error
	usedKey   string
	usedStack *stack.Stack
}

type cmdShutdown struct{ done chan struct{} }

func (cmdExecute) isCmd()   {}
func (cmdCancel) isCmd()    {}
func (cmdCompleted) isCmd() {}
func (cmdShutdown) isCmd()  {}

// Manager is the request manager: the multi-indexed in-flight table plus
// the command loop driving admission, retry, redirect, and cancellation.
type Manager struct {
	settings Settings
	pool     *pool.Pool

	cmds chan cmd

	mu     sync.Mutex // guards nextID only; the table itself is loop-owned
	nextID uint64
}

// New starts a Manager's loop goroutine and returns immediately.
func New(settings Settings) *Manager {
	if settings.MaxParallelRequests <= 0 {
		settings.MaxParallelRequests = 25
	}
	if settings.MaxAttempts <= 0 {
		settings.MaxAttempts = 5
	}
	m := &Manager{
		settings: settings,
		pool:     pool.New(),
		cmds:     make(chan cmd, 64),
	}
	go m.loop()
	return m
}

// PoolStats exposes the connection pool's occupancy and lifetime counters.
func (m *Manager) PoolStats() pool.Stats { return m.pool.Stats() }

// Execute submits a request for execution and returns its entry id,
// usable as input to the cancel index lookups if ever needed for
// diagnostics. handler is invoked exactly once, on executor, with the
// terminal Result.
func (m *Manager) Execute(handler func(reqres.Result), executor dispatch.Executor, req reqres.Request, cancelToken string) uint64 {
	if executor == nil {
		executor = dispatch.System
	}
	reply := make(chan uint64, 1)
	m.cmds <- cmdExecute{req: req, handler: handler, executor: executor, cancelToken: cancelToken, replyID: reply}
	return <-reply
}

// CancelRequests cancels every request tagged with token, whether it is
// still waiting or already in progress. An empty token cancels every
// request.
func (m *Manager) CancelRequests(token string) {
	m.cmds <- cmdCancel{token: token}
}

// Shutdown cancels every waiting and in-progress request exactly as
// CancelRequests("") would, invoking each one's callback with a Cancelled
// result, then closes the pool's idle connections. Shutdown blocks until
// every pending callback has been handed to its executor and the loop
// itself has exited.
func (m *Manager) Shutdown() {
	done := make(chan struct{})
	m.cmds <- cmdShutdown{done: done}
	<-done
}

func (m *Manager) allocID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return m.nextID
}

// loop is the single serialized executor: every table and pool mutation
// happens here, on this one goroutine, never anywhere else.
func (m *Manager) loop() {
	table := make(map[uint64]*entry)
	byToken := make(map[string]map[uint64]bool)
	var waiting []uint64 // ids currently in stateWaiting or stateWaitingRetry
	active := 0

	addToken := func(e *entry) {
		if e.cancelToken == "" {
			return
		}
		set, ok := byToken[e.cancelToken]
		if !ok {
			set = make(map[uint64]bool)
			byToken[e.cancelToken] = set
		}
		set[e.id] = true
	}
	removeToken := func(e *entry) {
		if e.cancelToken == "" {
			return
		}
		if set, ok := byToken[e.cancelToken]; ok {
			delete(set, e.id)
			if len(set) == 0 {
				delete(byToken, e.cancelToken)
			}
		}
	}

	// admitNext starts as many waiting entries as there is room for.
	var admitNext func()
	admitNext = func() {
		for active < m.settings.MaxParallelRequests {
			idx := nextAdmissible(waiting, table)
			if idx < 0 {
				return
			}
			id := waiting[idx]
			waiting = append(waiting[:idx], waiting[idx+1:]...)
			e := table[id]
			e.state = stateInProgress
			active++
			m.dispatchAttempt(e)
		}
	}

	for c := range m.cmds {
		switch msg := c.(type) {
		case cmdExecute:
			id := m.allocID()
			e := &entry{
				id:          id,
				req:         msg.req,
				handler:     msg.handler,
				executor:    msg.executor,
				cancelToken: msg.cancelToken,
				state:       stateWaiting,
				createdAt:   time.Now(),
			}
			table[id] = e
			addToken(e)
			waiting = append(waiting, id)
			msg.replyID <- id
			admitNext()

		case cmdCancel:
			ids := byToken[msg.token]
			if msg.token == "" {
				// The empty token matches every request.
				ids = make(map[uint64]bool, len(table))
				for id := range table {
					ids[id] = true
				}
			}
			for id := range ids {
				e, ok := table[id]
				if !ok {
					continue
				}
				if e.state == stateInProgress {
					if e.cancel != nil {
						e.cancel()
					}
					continue // completion arrives via cmdCompleted
				}
				// still waiting: remove and fire a Cancelled result now
				for i, wid := range waiting {
					if wid == id {
						waiting = append(waiting[:i], waiting[i+1:]...)
						break
					}
				}
				removeToken(e)
				delete(table, id)
				result := reqres.ErrResult(xerrors.NewCancelled(), timing.Stats{})
				e.executor.Execute(func() { e.handler(result) })
			}

		case cmdCompleted:
			e, ok := table[msg.id]
			if !ok {
				// no entry for this id: neither CancelRequests nor the
				// retry path removes an in-progress entry before its
				// completion arrives, and Shutdown drains completions
				// itself, so this is a defensive check that logs and
				// drops the completion after settling its Stack.
				slog.Debug("completion for unknown entry, dropping", "id", msg.id)
				m.settlePool(msg)
				active--
				admitNext()
				continue
			}
			m.settlePool(msg)
			active--

			if m.shouldRetry(e, msg) {
				e.attempt++
				e.state = stateWaitingRetry
				waiting = append(waiting, e.id)
				admitNext()
				continue
			}

			if m.retriesExhausted(e, msg) {
				msg.result = reqres.ErrResult(xerrors.NewTooManyRetries(e.attempt+1), msg.result.Stats)
			}

			if redirected, ok := redirectRequest(e.req, msg.result); ok && e.attempt+1 < m.settings.MaxAttempts {
				e.attempt++
				e.req = redirected
				e.state = stateWaitingRetry
				waiting = append(waiting, e.id)
				admitNext()
				continue
			}

			removeToken(e)
			delete(table, e.id)
			result := msg.result
			e.executor.Execute(func() { e.handler(result) })
			admitNext()

		case cmdShutdown:
			// Requests still Waiting/WaitingRetry never started I/O, so no
			// cmdCompleted will ever arrive for them: settle them directly,
			// the same way CancelRequests("") would.
			for _, id := range waiting {
				e := table[id]
				delete(table, id)
				removeToken(e)
				result := reqres.ErrResult(xerrors.NewCancelled(), timing.Stats{})
				e.executor.Execute(func() { e.handler(result) })
			}
			waiting = nil

			// Every remaining table entry is InProgress: cancel its
			// per-request goroutine and keep draining m.cmds until each one
			// has reported back, so every callback still fires exactly once
			// and no goroutine is left blocked forever trying to post to a
			// channel nobody reads anymore.
			pending := len(table)
			for _, e := range table {
				if e.cancel != nil {
					e.cancel()
				}
			}
			for pending > 0 {
				switch drain := (<-m.cmds).(type) {
				case cmdCompleted:
					m.settlePool(drain)
					pending--
					if e, ok := table[drain.id]; ok {
						delete(table, e.id)
						removeToken(e)
						result := drain.result
						e.executor.Execute(func() { e.handler(result) })
					}
				case cmdExecute:
					// The manager is already shutting down: refuse new work
					// the same way a cancelled request is reported, rather
					// than leaving the caller's reply channel unanswered.
					result := reqres.ErrResult(xerrors.NewCancelled(), timing.Stats{})
					drain.replyID <- 0
					drain.executor.Execute(func() { drain.handler(result) })
				case cmdCancel:
					// Nothing left to cancel beyond what shutdown already
					// triggered.
				case cmdShutdown:
					// A concurrent Shutdown call: it waits on the same
					// drain, so wake it too.
					close(drain.done)
				}
			}

			m.pool.Close()
			close(msg.done)
			return
		}
	}
}

// settlePool returns or discards the Stack used by a just-completed
// attempt, based on whether the connection is still usable.
func (m *Manager) settlePool(msg cmdCompleted) {
	if msg.usedStack == nil {
		return
	}
	if msg.fatal != nil || !msg.keepAlive {
		m.pool.Discard(msg.usedKey, msg.usedStack)
		return
	}
	m.pool.Release(msg.usedKey, msg.usedStack)
}

// shouldRetry reports whether a completed attempt failed in a way the
// retry policy covers: a transient transport/parse fault, with attempts
// remaining. Redirects are handled separately by redirectRequest.
func (m *Manager) shouldRetry(e *entry, msg cmdCompleted) bool {
	if msg.result.Error == nil {
		return false
	}
	if !xerrors.IsTransient(msg.result.Error) {
		return false
	}
	return e.attempt+1 < m.settings.MaxAttempts
}

// retriesExhausted reports whether msg is the final attempt's failure for a
// transient fault that shouldRetry would otherwise have retried, had any
// attempts remained. Its result must be re-labeled TooManyRetries rather
// than finalized with the last attempt's raw transport error.
func (m *Manager) retriesExhausted(e *entry, msg cmdCompleted) bool {
	if msg.result.Error == nil {
		return false
	}
	if !xerrors.IsTransient(msg.result.Error) {
		return false
	}
	return e.attempt+1 >= m.settings.MaxAttempts
}

// nextAdmissible scans waiting for the highest-priority id: all
// stateWaitingRetry entries sort ahead of stateWaiting ones, and within a
// state, submission order (slice order) is preserved. A linear scan is
// fine here: the waiting queue is expected to stay shallow relative to
// MaxParallelRequests, and Go has no multi_index_container to lean on.
func nextAdmissible(waiting []uint64, table map[uint64]*entry) int {
	best := -1
	for i, id := range waiting {
		e := table[id]
		if e == nil {
			continue
		}
		if best == -1 || e.state < table[waiting[best]].state {
			best = i
		}
	}
	return best
}

// dispatchAttempt launches the per-request goroutine that performs the
// blocking socket I/O for one attempt of e.req, reporting the outcome back
// to the loop via cmdCompleted. This is the only place a Stack's Do method
// is called, keeping HTTP/1.1's one-request-at-a-time constraint intact.
func (m *Manager) dispatchAttempt(e *entry) {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	req := e.req

	go func() {
		defer cancel()

		timer := timing.NewTimer()
		key := stack.Key(req.URL)

		s, reused := m.pool.Acquire(key)
		if s == nil {
			var err error
			s, err = stack.Dial(ctx, req.URL, req.SSL, timer)
			if err != nil {
				m.cmds <- cmdCompleted{
					id:     e.id,
					result: reqres.ErrResult(toXerror(err), timer.Stats()),
					fatal:  err,
				}
				return
			}
			m.pool.NoteCreated()
		}

		// net.Conn has no context support of its own, so the only way to
		// interrupt a blocking Read/Write on cancellation is to force the
		// connection closed out from under it: this watcher is the
		// Go-idiomatic substitute for "the reactor cancels the pending
		// I/O operation" for a cancelled request that is already
		// in-flight on its Stack.
		ioDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				s.Close()
			case <-ioDone:
			}
		}()

		result, keepAlive, fatal := s.Do(ctx, req, timer, reused)
		close(ioDone)
		if ctx.Err() == context.Canceled {
			result = reqres.ErrResult(xerrors.NewCancelled(), timer.Stats())
			keepAlive = false
			fatal = ctx.Err()
		}

		m.cmds <- cmdCompleted{
			id:        e.id,
			result:    result,
			keepAlive: keepAlive,
			fatal:     fatal,
			usedKey:   key,
			usedStack: s,
		}
	}()
}

func toXerror(err error) *xerrors.Error {
	if e, ok := err.(*xerrors.Error); ok {
		return e
	}
	return xerrors.NewTransportError("dial", err)
}

// redirectRequest reports whether result is a 3xx carrying a Location
// header the retry policy should follow, and if so the rewritten request
// to retry with. Relative Location values resolve against the original
// request's URL.
func redirectRequest(req reqres.Request, result reqres.Result) (reqres.Request, bool) {
	if result.StatusCode < 300 || result.StatusCode >= 400 {
		return reqres.Request{}, false
	}
	loc, ok := result.HeaderValue("Location")
	if !ok || loc == "" {
		return reqres.Request{}, false
	}

	target, err := urlx.Parse(loc)
	if err != nil {
		// Location is likely a relative path; resolve against the
		// original host/protocol/port.
		target = urlx.FromParts(req.URL.Protocol, req.URL.Host, req.URL.Port, loc, "")
	}
	return req.WithURL(target), true
}
