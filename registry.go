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
	"sync"
	"time"
)

// WorkerRecord is the supervisor-side bookkeeping for one worker
// process.  The id is an opaque handle that is never reused, even if
// the OS recycles the pid.  Records are created when the control loop
// decides to spawn, mutated only by the control loop, and removed only
// after the Exited transition is observed.
type WorkerRecord struct {
	id        string
	pid       int
	state     State
	createdAt time.Time
	usage     uint64
	usageTime time.Time
	proc      WorkerProcess
	timerSeq  int64 // invalidates stale grace-period timers
	killed    bool  // control loop force-terminated this worker
	serial    int64
}

func (r *WorkerRecord) Id() string {
	return r.id
}

func (r *WorkerRecord) Pid() int {
	return r.pid
}

// WorkerInfo is a point-in-time snapshot of a record, suitable for the
// operator API.  Serial is the record's own change counter, usable as
// a per-worker etag.
type WorkerInfo struct {
	Id        string    `json:"id"`
	Pid       int       `json:"pid"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
	Usage     uint64    `json:"usage"`
	UsageTime time.Time `json:"usageTime,omitempty"`
	Serial    int64     `json:"serial,string"`
}

// Registry is the single source of truth for pool membership.  The
// control loop is the only writer; the operator API reads snapshots.
// Serial numbers are bumped on every mutation so that clients can
// long-poll for changes, and double as etags for the REST layer.
type Registry struct {
	workers    map[string]*WorkerRecord
	serial     int64
	listSerial int64
	createTime time.Time
	updateTime time.Time
	cvs        map[*sync.Cond]bool
	mx         sync.Mutex
}

func NewRegistry() *Registry {
	// The origin serial is the current time in nsec, so that clients
	// which cache serials across a supervisor restart are forced to
	// invalidate.
	r := &Registry{
		workers: make(map[string]*WorkerRecord),
		serial:  time.Now().UnixNano(),
		cvs:     make(map[*sync.Cond]bool),
	}
	r.listSerial = r.serial
	r.createTime = time.Now()
	r.updateTime = r.createTime
	return r
}

func (r *Registry) lock() {
	r.mx.Lock()
}

func (r *Registry) unlock() {
	r.mx.Unlock()
}

// bumpSerial increments the serial and notifies watchers.  It returns
// the new serial number, so that it can be stored in records.
// Call with lock held.
func (r *Registry) bumpSerial() int64 {
	r.updateTime = time.Now()
	r.serial++
	rv := r.serial
	// NB: the lock must be held here, or woken goroutines may miss
	// the updated serial number.
	for cv := range r.cvs {
		cv.Broadcast()
	}
	return rv
}

func (r *Registry) watchSerial(old int64, src *int64, expire time.Duration) int64 {
	expired := false
	cv := sync.NewCond(&r.mx)
	var timer *time.Timer
	var rv int64

	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			r.lock()
			expired = true
			cv.Broadcast()
			r.unlock()
		})
	} else {
		expired = true
	}

	r.lock()
	r.cvs[cv] = true
	for {
		rv = *src
		if rv != old || expired {
			break
		}
		cv.Wait()
	}
	delete(r.cvs, cv)
	r.unlock()
	if timer != nil {
		timer.Stop()
	}
	return rv
}

// WatchSerial blocks until the global serial number differs from old,
// or the expiration elapses.  A poll can be done by supplying 0 for
// the expiration.  The current serial is returned either way.
func (r *Registry) WatchSerial(old int64, expire time.Duration) int64 {
	return r.watchSerial(old, &r.serial, expire)
}

// WatchWorkers is like WatchSerial, but only wakes for membership
// changes, not per-worker state changes.
func (r *Registry) WatchWorkers(old int64, expire time.Duration) int64 {
	return r.watchSerial(old, &r.listSerial, expire)
}

// WatchWorker blocks until one record's own serial differs from old,
// or the expiration elapses.  A worker no longer in the registry
// reports serial 0, which never matches a live etag.
func (r *Registry) WatchWorker(id string, old int64, expire time.Duration) int64 {
	rec := r.get(id)
	if rec == nil {
		return 0
	}
	return r.watchSerial(old, &rec.serial, expire)
}

// Serial returns the global serial number.  It is incremented any time
// a record changes state, usage, or membership.
func (r *Registry) Serial() int64 {
	r.lock()
	rv := r.serial
	r.unlock()
	return rv
}

// add registers a record.  The id must not collide with any record
// that has ever been registered and not yet removed.
func (r *Registry) add(rec *WorkerRecord) error {
	r.lock()
	defer r.unlock()
	if _, ok := r.workers[rec.id]; ok {
		return ErrDupWorker
	}
	r.workers[rec.id] = rec
	r.listSerial = r.bumpSerial()
	rec.serial = r.listSerial
	return nil
}

// remove drops a record.  Only legal once the record is Exited.
func (r *Registry) remove(id string) error {
	r.lock()
	defer r.unlock()
	rec, ok := r.workers[id]
	if !ok {
		return ErrNoSuchWorker
	}
	if rec.state != Exited {
		return ErrBadState
	}
	delete(r.workers, id)
	r.listSerial = r.bumpSerial()
	// One final bump on the record itself, so per-worker watchers see
	// the disappearance.
	rec.serial = r.listSerial
	return nil
}

func (r *Registry) get(id string) *WorkerRecord {
	r.lock()
	rec := r.workers[id]
	r.unlock()
	return rec
}

// setState applies a lifecycle transition, enforcing the legal edges.
func (r *Registry) setState(rec *WorkerRecord, to State) error {
	r.lock()
	defer r.unlock()
	if !canTransition(rec.state, to) {
		return ErrBadTransition
	}
	rec.state = to
	rec.serial = r.bumpSerial()
	return nil
}

func (r *Registry) state(rec *WorkerRecord) State {
	r.lock()
	s := rec.state
	r.unlock()
	return s
}

func (r *Registry) setUsage(rec *WorkerRecord, usage uint64, when time.Time) {
	r.lock()
	rec.usage = usage
	rec.usageTime = when
	rec.serial = r.bumpSerial()
	r.unlock()
}

// Times returns the creation and last-update timestamps.
func (r *Registry) Times() (time.Time, time.Time) {
	r.lock()
	defer r.unlock()
	return r.createTime, r.updateTime
}

// CountInState returns how many workers are currently in the state.
func (r *Registry) CountInState(s State) int {
	r.lock()
	defer r.unlock()
	n := 0
	for _, rec := range r.workers {
		if rec.state == s {
			n++
		}
	}
	return n
}

// PoolSize is the effective pool size: workers in Ready or Listening.
// Outside a handover window this equals the configured size N; during
// a handover it may transiently be N+1, never N-1.
func (r *Registry) PoolSize() int {
	r.lock()
	defer r.unlock()
	n := 0
	for _, rec := range r.workers {
		if rec.state.serving() {
			n++
		}
	}
	return n
}

// Len is the number of records, in any state.
func (r *Registry) Len() int {
	r.lock()
	defer r.unlock()
	return len(r.workers)
}

// Empty reports whether no records remain.  The supervisor may only
// exit once this is true.
func (r *Registry) Empty() bool {
	return r.Len() == 0
}

// Workers returns snapshots of all records.  Order is arbitrary.
func (r *Registry) Workers() []*WorkerInfo {
	r.lock()
	defer r.unlock()
	rv := make([]*WorkerInfo, 0, len(r.workers))
	for _, rec := range r.workers {
		rv = append(rv, &WorkerInfo{
			Id:        rec.id,
			Pid:       rec.pid,
			State:     rec.state.String(),
			CreatedAt: rec.createdAt,
			Usage:     rec.usage,
			UsageTime: rec.usageTime,
			Serial:    rec.serial,
		})
	}
	return rv
}

// Worker returns a snapshot of one record.
func (r *Registry) Worker(id string) (*WorkerInfo, error) {
	r.lock()
	defer r.unlock()
	rec, ok := r.workers[id]
	if !ok {
		return nil, ErrNoSuchWorker
	}
	return &WorkerInfo{
		Id:        rec.id,
		Pid:       rec.pid,
		State:     rec.state.String(),
		CreatedAt: rec.createdAt,
		Usage:     rec.usage,
		UsageTime: rec.usageTime,
		Serial:    rec.serial,
	}, nil
}

// each calls fn for every record, with the lock held.  Control loop
// use only; fn must not block or call back into the registry.
func (r *Registry) each(fn func(*WorkerRecord)) {
	r.lock()
	for _, rec := range r.workers {
		fn(rec)
	}
	r.unlock()
}
