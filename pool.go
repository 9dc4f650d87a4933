// Copyright 2026 The Poolvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package poolvisor

import (
	"log"
	"os"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Config carries everything a Pool needs.  Launcher is required; the
// rest has usable defaults.
type Config struct {
	// Name distinguishes this pool in logs and the operator API.
	Name string

	// Launcher spawns worker processes.
	Launcher Launcher

	// Sampler supplies resource usage per pid.  Defaults to the
	// /proc-based sampler.
	Sampler Sampler

	// Policy is the replacement policy.  Policy.PoolSize must be
	// at least one.
	Policy Policy

	// Logger is an extra log destination besides the retained ring.
	// Defaults to stderr.
	Logger *log.Logger
}

// Counters are the anomaly counters.  Degraded events are never
// silently swallowed: each increments a counter and writes the event
// log.
type Counters struct {
	// Crashes counts involuntary exits.
	Crashes int64 `json:"crashes"`

	// ForcedKills counts retiring workers that had to be
	// force-terminated after the drain grace period.
	ForcedKills int64 `json:"forcedKills"`

	// FailedHandovers counts replacement candidates that never
	// confirmed Listening.
	FailedHandovers int64 `json:"failedHandovers"`

	// Violations counts control messages discarded because the
	// sender was not in the prerequisite state.
	Violations int64 `json:"violations"`
}

// PoolInfo is a consistent snapshot of pool health for the operator
// API.
type PoolInfo struct {
	Name          string    `json:"name"`
	PoolSize      int       `json:"poolSize"`
	Active        int       `json:"active"`
	ResourceLimit uint64    `json:"resourceLimit"`
	Draining      bool      `json:"draining"`
	Serial        int64     `json:"serial,string"`
	CreateTime    time.Time `json:"ctime"`
	UpdateTime    time.Time `json:"utime"`
	Counters
}

type eventKind int

const (
	evMessage eventKind = iota
	evDisconnect
	evExit
	evTimeout
	evRetry
	evControl
)

type timeoutKind int

const (
	listenTimeout timeoutKind = iota
	drainTimeout
)

// event is one item of the merged stream the control loop consumes.
type event struct {
	kind    eventKind
	worker  string
	msg     *Message
	err     error
	timeout timeoutKind
	seq     int64
	fn      func()
}

type retireReq struct {
	id     string
	reason string
}

// handover tracks one in-flight make-before-break replacement.  At
// most one handover is active at a time, which is what bounds the pool
// at N+1.  Further retirement requests queue behind it.
type handover struct {
	retiring  string
	candidate string
	attempts  int
	reason    string
}

// Pool is the supervisor: it owns the shared listening resource
// (through the Launcher), the registry, and a single event-loop
// goroutine that applies all state transitions.  Workers never learn
// about each other; a replacement for one worker never touches
// another's record.
type Pool struct {
	name     string
	launcher Launcher
	sampler  Sampler
	reg      *Registry
	events   chan event
	closed   chan struct{}

	elog   *Log
	mlog   *MultiLogger
	logger *log.Logger

	// Read by the operator API, written by the loop.
	mx       sync.Mutex
	policy   Policy
	draining bool
	counters Counters

	// Loop-only state.
	ho    *handover
	queue []retireReq
	seq   int64
}

// NewPool validates the configuration, spawns the initial fleet, and
// starts the control loop.  Spawn failures during the initial fill are
// logged and healed by the reconciliation pass, not fatal.
func NewPool(cfg Config) (*Pool, error) {
	if cfg.Launcher == nil {
		return nil, ErrNoLauncher
	}
	pol := cfg.Policy.withDefaults()
	if pol.PoolSize < 1 {
		return nil, ErrBadPoolSize
	}
	name := cfg.Name
	if name == "" {
		name = "poolvisor"
	}
	sampler := cfg.Sampler
	if sampler == nil {
		sampler = NewProcSampler()
	}

	p := &Pool{
		name:     name,
		launcher: cfg.Launcher,
		sampler:  sampler,
		policy:   pol,
		reg:      NewRegistry(),
		events:   make(chan event, 128),
		closed:   make(chan struct{}),
		elog:     NewLog(),
		mlog:     NewMultiLogger(),
	}
	p.mlog.AddLogger(log.New(p.elog, "", 0))
	if cfg.Logger != nil {
		p.mlog.AddLogger(cfg.Logger)
	} else {
		p.mlog.AddLogger(log.New(os.Stderr, "", log.LstdFlags))
	}
	p.logger = p.mlog.Logger()

	p.logf("*** Poolvisor starting pool %s (size %d) ***", name, pol.PoolSize)
	for i := 0; i < pol.PoolSize; i++ {
		p.spawnWorker("initial fill")
	}
	go p.run()
	return p, nil
}

func (p *Pool) Name() string {
	return p.name
}

// Wait blocks until the pool has fully drained and the control loop
// has exited.
func (p *Pool) Wait() {
	<-p.closed
}

func (p *Pool) logf(format string, v ...interface{}) {
	p.logger.Printf(format, v...)
}

// post delivers an event to the loop, unless the pool is already shut
// down.
func (p *Pool) post(ev event) {
	select {
	case p.events <- ev:
	case <-p.closed:
	}
}

// do runs fn on the control loop and returns its error.  This is how
// the operator surface mutates pool state without sharing memory with
// the loop.
func (p *Pool) do(fn func() error) error {
	errc := make(chan error, 1)
	select {
	case p.events <- event{kind: evControl, fn: func() { errc <- fn() }}:
	case <-p.closed:
		return ErrPoolClosed
	}
	select {
	case err := <-errc:
		return err
	case <-p.closed:
		return ErrPoolClosed
	}
}

// run is the control loop: a cooperative dispatch over control
// messages, disconnects, process exits, timer expirations and operator
// requests.  It never blocks waiting on a specific worker's progress;
// every grace period is a timer event.
func (p *Pool) run() {
	ticker := time.NewTicker(p.getPolicy().SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case ev := <-p.events:
			p.handle(ev)
		case <-ticker.C:
			p.sampleAll()
			p.reconcile()
		}
		if p.isDraining() && p.reg.Empty() {
			p.logf("*** Poolvisor pool %s drained ***", p.name)
			close(p.closed)
			return
		}
	}
}

func (p *Pool) handle(ev event) {
	switch ev.kind {
	case evControl:
		ev.fn()
	case evMessage:
		p.handleMessage(ev.worker, ev.msg)
	case evDisconnect:
		p.handleDisconnect(ev.worker)
	case evExit:
		p.handleExit(ev.worker, ev.err)
	case evTimeout:
		p.handleTimeout(ev)
	case evRetry:
		p.retryHandover(ev.worker)
	}
}

// spawnWorker creates a record in Forked, starts the event watcher,
// and arms the listen grace timer covering the whole window from spawn
// to Listening.
func (p *Pool) spawnWorker(reason string) (*WorkerRecord, error) {
	id := uuid.New().String()
	proc, err := p.launcher.Launch(id)
	if err != nil {
		p.logf("Failed to spawn worker: %v", err)
		return nil, err
	}
	rec := &WorkerRecord{
		id:        id,
		pid:       proc.Pid(),
		state:     Forked,
		createdAt: time.Now(),
		proc:      proc,
	}
	p.reg.add(rec)
	p.armTimer(rec, listenTimeout, p.getPolicy().ListenTimeout)
	p.logf("Spawned worker %s (pid %d): %s", shortId(id), rec.pid, reason)
	go p.watch(id, proc)
	return rec, nil
}

// watch funnels one worker's lifecycle into the merged event stream.
// Frames arrive in send order; Disconnect follows the last frame; Exit
// follows the OS reaping the process.
func (p *Pool) watch(id string, proc WorkerProcess) {
	for m := range proc.Messages() {
		p.post(event{kind: evMessage, worker: id, msg: m})
	}
	p.post(event{kind: evDisconnect, worker: id})
	err := <-proc.Done()
	p.post(event{kind: evExit, worker: id, err: err})
}

func (p *Pool) handleMessage(id string, m *Message) {
	rec := p.reg.get(id)
	if rec == nil {
		return
	}
	if !m.Type.fromWorker() {
		p.violation(rec, m)
		return
	}
	switch m.Type {
	case MsgOnline:
		if p.reg.setState(rec, Online) != nil {
			p.violation(rec, m)
			return
		}
	case MsgReady:
		if p.reg.state(rec) != Online || p.reg.setState(rec, Ready) != nil {
			p.violation(rec, m)
			return
		}
		p.authorize(rec)
	case MsgListening:
		if p.reg.state(rec) != Ready || p.reg.setState(rec, Listening) != nil {
			p.violation(rec, m)
			return
		}
		rec.timerSeq = 0
		p.logf("Worker %s listening", shortId(id))
		if p.ho != nil && p.ho.candidate == id {
			p.confirmHandover()
		}
	case MsgStopped:
		if p.reg.state(rec) != Stopping || p.reg.setState(rec, Stopped) != nil {
			p.violation(rec, m)
			return
		}
		p.logf("Worker %s stopped accepting", shortId(id))
	}
	if m.Usage > 0 {
		p.reg.setUsage(rec, m.Usage, time.Now())
	}
}

// violation records a protocol violation.  The message is discarded;
// the worker's recorded state is the source of truth, and the
// supervisor never crashes over a bad frame.
func (p *Pool) violation(rec *WorkerRecord, m *Message) {
	p.mx.Lock()
	p.counters.Violations++
	p.mx.Unlock()
	p.logf("Protocol violation: %q from worker %s in state %s; discarded",
		m.Type, shortId(rec.id), p.reg.state(rec))
}

// authorize sends Start to a Ready worker.  Start carries no state
// change of its own; Listening is confirmed by the worker.
func (p *Pool) authorize(rec *WorkerRecord) {
	if err := rec.proc.Send(&Message{Worker: rec.id, Type: MsgStart, Time: time.Now()}); err != nil {
		// The listen timer armed at spawn will catch the stall.
		p.logf("Failed to send start to %s: %v", shortId(rec.id), err)
	}
}

// retire sends Stop to a Listening worker and arms the drain timer.
// Calling it for a worker already on the way out is a no-op, which is
// what makes replacement requests idempotent.
func (p *Pool) retire(rec *WorkerRecord, reason string) {
	if p.reg.state(rec) != Listening {
		return
	}
	p.reg.setState(rec, Stopping)
	p.logf("Stopping worker %s: %s", shortId(rec.id), reason)
	if err := rec.proc.Send(&Message{Worker: rec.id, Type: MsgStop, Time: time.Now()}); err != nil {
		p.logf("Failed to send stop to %s: %v", shortId(rec.id), err)
	}
	p.armTimer(rec, drainTimeout, p.getPolicy().DrainTimeout)
}

func (p *Pool) handleDisconnect(id string) {
	rec := p.reg.get(id)
	if rec == nil {
		return
	}
	if p.reg.state(rec) == Stopped {
		p.reg.setState(rec, Disconnected)
	}
	// A disconnect in any earlier state is a premature EOF; the exit
	// event classifies it.
}

func (p *Pool) handleExit(id string, err error) {
	rec := p.reg.get(id)
	if rec == nil {
		return
	}
	graceful := p.reg.state(rec) == Disconnected
	rec.timerSeq = 0
	p.reg.setState(rec, Exited)
	p.reg.remove(id)

	switch {
	case graceful:
		p.logf("Worker %s exited cleanly", shortId(id))
	case rec.killed:
		p.logf("Worker %s terminated", shortId(id))
	case p.isDraining():
		p.logf("Worker %s exited on shutdown: %v", shortId(id), err)
	default:
		p.mx.Lock()
		p.counters.Crashes++
		p.mx.Unlock()
		p.logf("Worker %s exited unexpectedly: %v", shortId(id), err)
	}

	if h := p.ho; h != nil {
		if h.candidate == id {
			// Candidate gone before confirming Listening.
			p.mx.Lock()
			p.counters.FailedHandovers++
			p.mx.Unlock()
			p.logf("Handover candidate %s lost before listening", shortId(id))
			p.scheduleRetry()
		} else if h.retiring == id {
			p.ho = nil
			p.logf("Retirement of worker %s complete", shortId(id))
			p.dequeue()
		}
	}

	if !p.isDraining() {
		p.reconcile()
	}
}

func (p *Pool) handleTimeout(ev event) {
	rec := p.reg.get(ev.worker)
	if rec == nil || rec.timerSeq != ev.seq {
		return
	}
	switch ev.timeout {
	case listenTimeout:
		p.logf("Worker %s failed to reach listening within grace period; terminating",
			shortId(rec.id))
		rec.killed = true
		rec.proc.Kill()
	case drainTimeout:
		p.mx.Lock()
		p.counters.ForcedKills++
		p.mx.Unlock()
		p.logf("DEGRADED: worker %s did not drain within grace period; forcing termination",
			shortId(rec.id))
		rec.killed = true
		rec.proc.Kill()
	}
}

// armTimer arms a grace period for the worker.  Bumping timerSeq
// invalidates any timer armed earlier for the same record.
func (p *Pool) armTimer(rec *WorkerRecord, k timeoutKind, d time.Duration) {
	p.seq++
	s := p.seq
	rec.timerSeq = s
	id := rec.id
	time.AfterFunc(d, func() {
		p.post(event{kind: evTimeout, worker: id, timeout: k, seq: s})
	})
}

// requestRetire queues a make-before-break replacement for the worker.
// Requests for a worker already being replaced, queued, or already
// stopping are absorbed without effect.
func (p *Pool) requestRetire(id, reason string) {
	if p.ho != nil && (p.ho.retiring == id || p.ho.candidate == id) {
		return
	}
	for _, q := range p.queue {
		if q.id == id {
			return
		}
	}
	rec := p.reg.get(id)
	if rec == nil || p.reg.state(rec) != Listening {
		return
	}
	p.queue = append(p.queue, retireReq{id: id, reason: reason})
	p.dequeue()
}

// dequeue starts the next queued retirement if no handover is active.
// Serializing handovers is what keeps the pool at N+1 rather than
// N+k during a rolling restart.
func (p *Pool) dequeue() {
	if p.ho != nil || p.isDraining() {
		return
	}
	for len(p.queue) > 0 {
		q := p.queue[0]
		p.queue = p.queue[1:]
		rec := p.reg.get(q.id)
		if rec == nil || p.reg.state(rec) != Listening {
			continue
		}
		p.ho = &handover{retiring: q.id, reason: q.reason}
		p.logf("Starting handover for worker %s: %s", shortId(q.id), q.reason)
		p.launchCandidate()
		return
	}
}

func (p *Pool) launchCandidate() {
	h := p.ho
	h.attempts++
	rec, err := p.spawnWorker("replacement for " + shortId(h.retiring))
	if err != nil {
		p.mx.Lock()
		p.counters.FailedHandovers++
		p.mx.Unlock()
		p.scheduleRetry()
		return
	}
	h.candidate = rec.id
}

// confirmHandover runs when the candidate reports Listening.  Only now
// is the incumbent told to stop; this ordering is the make-before-break
// guarantee.
func (p *Pool) confirmHandover() {
	h := p.ho
	old := p.reg.get(h.retiring)
	if old == nil {
		// The incumbent crashed while the candidate was coming up;
		// the candidate simply joins the pool.
		p.ho = nil
		p.dequeue()
		return
	}
	p.retire(old, h.reason)
}

// scheduleRetry arms the backoff timer for the next handover attempt,
// or abandons the retirement once attempts are exhausted.  The
// incumbent keeps serving throughout; service never regresses below N
// on account of a failed handover.
func (p *Pool) scheduleRetry() {
	h := p.ho
	h.candidate = ""
	pol := p.getPolicy()
	if h.attempts >= pol.MaxRetries {
		p.logf("ALERT: abandoning replacement of worker %s after %d attempts",
			shortId(h.retiring), h.attempts)
		p.ho = nil
		p.dequeue()
		return
	}
	d := pol.backoff(h.attempts)
	retiring := h.retiring
	p.logf("Retrying replacement of worker %s in %v", shortId(retiring), d)
	time.AfterFunc(d, func() {
		p.post(event{kind: evRetry, worker: retiring})
	})
}

func (p *Pool) retryHandover(retiring string) {
	h := p.ho
	if h == nil || h.retiring != retiring || h.candidate != "" {
		return
	}
	rec := p.reg.get(retiring)
	if rec == nil || p.reg.state(rec) != Listening {
		p.ho = nil
		p.dequeue()
		return
	}
	p.launchCandidate()
}

// sampleAll refreshes usage for every Listening worker and queues
// retirements for budget breaches.
func (p *Pool) sampleAll() {
	if p.isDraining() {
		return
	}
	pol := p.getPolicy()
	now := time.Now()
	for _, w := range p.reg.Workers() {
		if w.State != Listening.String() {
			continue
		}
		usage, err := p.sampler.Sample(w.Pid)
		if err != nil {
			continue
		}
		rec := p.reg.get(w.Id)
		if rec == nil {
			continue
		}
		p.reg.setUsage(rec, usage, now)
		if pol.overLimit(usage, now, now) {
			p.requestRetire(w.Id, "resource budget exceeded")
		}
	}
}

// reconcile restores the configured pool size.  Involuntary exits are
// healed by an immediate spawn; an over-provisioned pool (after a size
// reduction) is shrunk newest-first through the normal drain sequence,
// without replacements.
func (p *Pool) reconcile() {
	if p.isDraining() {
		return
	}
	want := p.getPolicy().PoolSize
	have := 0
	var listening []*WorkerRecord
	p.reg.each(func(rec *WorkerRecord) {
		if rec.state <= Listening {
			have++
			if rec.state == Listening {
				listening = append(listening, rec)
			}
		}
	})
	if h := p.ho; h != nil && h.candidate != "" {
		// The candidate is the transient +1 only while the incumbent
		// it replaces still counts; once the incumbent reaches
		// Stopping the head count already reflects the swap.
		if rec := p.reg.get(h.retiring); rec != nil && p.reg.state(rec) <= Listening {
			have--
		}
	}
	for i := have; i < want; i++ {
		p.spawnWorker("restoring pool size")
	}
	if have > want && p.ho == nil {
		sort.Slice(listening, func(i, j int) bool {
			return listening[i].createdAt.After(listening[j].createdAt)
		})
		for i := 0; i < have-want && i < len(listening); i++ {
			p.retire(listening[i], "pool size reduced")
		}
	}
}

// beginDrain starts the supervisor's own shutdown.  Listening workers
// get a Stop (or already got the relayed fatal signal); everything
// else is signaled to terminate.  The loop exits once the registry is
// empty.
func (p *Pool) beginDrain(sendStop bool) {
	if p.isDraining() {
		return
	}
	p.mx.Lock()
	p.draining = true
	p.mx.Unlock()
	p.queue = nil
	p.ho = nil
	p.logf("*** Poolvisor draining pool %s ***", p.name)

	var stop, term []*WorkerRecord
	p.reg.each(func(rec *WorkerRecord) {
		switch {
		case rec.state == Listening && sendStop:
			stop = append(stop, rec)
		case rec.state.alive() && rec.state < Stopping:
			term = append(term, rec)
		}
	})
	for _, rec := range stop {
		p.retire(rec, "shutting down")
	}
	for _, rec := range term {
		if sendStop {
			rec.proc.Signal(syscall.SIGTERM)
		}
		p.armTimer(rec, drainTimeout, p.getPolicy().DrainTimeout)
	}
}

func (p *Pool) isDraining() bool {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.draining
}

func (p *Pool) getPolicy() Policy {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.policy
}

// Replace requests a make-before-break replacement of one worker.  A
// request for a worker already stopping (or already queued) has no
// additional effect.  Workers that are not yet serving cannot be
// replaced.
func (p *Pool) Replace(id string) error {
	return p.do(func() error {
		rec := p.reg.get(id)
		if rec == nil {
			return ErrNoSuchWorker
		}
		switch p.reg.state(rec) {
		case Listening:
			p.requestRetire(id, "operator request")
			return nil
		case Stopping, Stopped, Disconnected:
			return nil
		default:
			return ErrBadState
		}
	})
}

// RollingRestart queues a replacement for every Listening worker,
// oldest first.  Handovers proceed one at a time.
func (p *Pool) RollingRestart() error {
	return p.do(func() error {
		var listening []*WorkerRecord
		p.reg.each(func(rec *WorkerRecord) {
			if rec.state == Listening {
				listening = append(listening, rec)
			}
		})
		sort.Slice(listening, func(i, j int) bool {
			return listening[i].createdAt.Before(listening[j].createdAt)
		})
		for _, rec := range listening {
			p.requestRetire(rec.id, "rolling restart")
		}
		return nil
	})
}

// SetPoolSize reconfigures N.  Growth spawns immediately; shrink
// retires the newest Listening workers through the normal drain
// sequence.
func (p *Pool) SetPoolSize(n int) error {
	if n < 1 {
		return ErrBadPoolSize
	}
	return p.do(func() error {
		p.mx.Lock()
		p.policy.PoolSize = n
		p.mx.Unlock()
		p.reconcile()
		return nil
	})
}

// SetResourceLimit reconfigures the usage budget.  Zero disables the
// threshold trigger.
func (p *Pool) SetResourceLimit(limit uint64) error {
	return p.do(func() error {
		p.mx.Lock()
		p.policy.ResourceLimit = limit
		p.mx.Unlock()
		return nil
	})
}

// RelaySignal forwards a signal to every tracked worker.  Fatal
// signals additionally begin the drain; the supervisor exits only once
// the registry is empty.  SIGKILL and SIGSTOP never get here; they
// surface as involuntary exits instead.
func (p *Pool) RelaySignal(sig os.Signal) error {
	return p.do(func() error {
		p.logf("Relaying signal %v to all workers", sig)
		var procs []WorkerProcess
		p.reg.each(func(rec *WorkerRecord) {
			if rec.state.alive() {
				procs = append(procs, rec.proc)
			}
		})
		for _, proc := range procs {
			proc.Signal(sig)
		}
		if Fatal(sig) {
			p.beginDrain(false)
		}
		return nil
	})
}

// Shutdown retires the whole pool gracefully and blocks until the
// registry drains.  Stragglers are force-terminated after the drain
// grace period.
func (p *Pool) Shutdown() {
	p.do(func() error {
		p.beginDrain(true)
		return nil
	})
	p.Wait()
}

// Info returns a consistent snapshot of pool health.  It remains
// usable after shutdown.
func (p *Pool) Info() *PoolInfo {
	ctime, utime := p.reg.Times()
	p.mx.Lock()
	info := &PoolInfo{
		Name:          p.name,
		PoolSize:      p.policy.PoolSize,
		ResourceLimit: p.policy.ResourceLimit,
		Draining:      p.draining,
		Counters:      p.counters,
		CreateTime:    ctime,
		UpdateTime:    utime,
	}
	p.mx.Unlock()
	info.Active = p.reg.PoolSize()
	info.Serial = p.reg.Serial()
	return info
}

// Workers returns snapshots of all tracked workers.
func (p *Pool) Workers() []*WorkerInfo {
	return p.reg.Workers()
}

// Worker returns a snapshot of one worker.
func (p *Pool) Worker(id string) (*WorkerInfo, error) {
	return p.reg.Worker(id)
}

// PoolSize returns the effective pool size (Ready plus Listening).
func (p *Pool) PoolSize() int {
	return p.reg.PoolSize()
}

// Serial returns the registry serial, usable as an etag.
func (p *Pool) Serial() int64 {
	return p.reg.Serial()
}

// WatchSerial blocks until the registry serial differs from old or the
// expiration elapses.
func (p *Pool) WatchSerial(old int64, expire time.Duration) int64 {
	return p.reg.WatchSerial(old, expire)
}

// WatchWorker blocks until one worker's snapshot serial differs from
// old or the expiration elapses.
func (p *Pool) WatchWorker(id string, old int64, expire time.Duration) int64 {
	return p.reg.WatchWorker(id, old, expire)
}

// GetLog returns retained event log records newer than last.
func (p *Pool) GetLog(last int64) ([]LogRecord, int64) {
	return p.elog.GetRecords(last)
}

// WatchLog blocks until the event log grows past old or the expiration
// elapses.
func (p *Pool) WatchLog(old int64, expire time.Duration) int64 {
	return p.elog.Watch(old, expire)
}

// SetLogger adds an extra log destination.
func (p *Pool) SetLogger(l *log.Logger) {
	p.mlog.AddLogger(l)
}
