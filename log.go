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
	"strings"
	"sync"
	"time"
)

const MaxLogRecords = 1000

// LogRecord is one line of the pool event log.  Ids are monotonic and
// suitable for use as etags in the operator API.
type LogRecord struct {
	Id   int64     `json:"id,string"`
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// Log is a bounded ring of event records.  Handover failures, forced
// terminations, crashes and protocol violations all land here, so the
// operator can see degraded events after the fact.  It implements
// io.Writer so it can sit behind a log.Logger.
type Log struct {
	records []LogRecord
	next    int // next slot to overwrite
	filled  bool
	id      int64
	cvs     map[*sync.Cond]bool
	mx      sync.Mutex
}

func NewLog() *Log {
	return &Log{
		records: make([]LogRecord, MaxLogRecords),
		// Start ids at the clock so serials from a prior supervisor
		// incarnation never collide.
		id:  time.Now().UnixNano(),
		cvs: make(map[*sync.Cond]bool),
	}
}

// Write implements the Writer interface consumed by Logger.
func (l *Log) Write(b []byte) (int, error) {
	str := strings.Trim(string(b), "\n")
	l.mx.Lock()
	for _, line := range strings.Split(str, "\n") {
		l.id++
		l.records[l.next] = LogRecord{Id: l.id, Time: time.Now(), Text: line}
		l.next++
		if l.next == len(l.records) {
			l.next = 0
			l.filled = true
		}
	}
	for cv := range l.cvs {
		cv.Broadcast()
	}
	l.mx.Unlock()
	return len(b), nil
}

// GetRecords returns the retained records in order, along with an id
// usable as an etag.  If last matches the current id, nil is returned
// immediately without duplicating records.
func (l *Log) GetRecords(last int64) ([]LogRecord, int64) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.id == last {
		return nil, last
	}
	var recs []LogRecord
	if l.filled {
		recs = make([]LogRecord, 0, len(l.records))
		recs = append(recs, l.records[l.next:]...)
		recs = append(recs, l.records[:l.next]...)
	} else {
		recs = append(recs, l.records[:l.next]...)
	}
	return recs, l.id
}

// Watch blocks until the log grows past last, or the expiration
// elapses.  The current id is returned.
func (l *Log) Watch(last int64, expire time.Duration) int64 {
	expired := false
	var timer *time.Timer
	cv := sync.NewCond(&l.mx)
	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			l.mx.Lock()
			expired = true
			cv.Broadcast()
			l.mx.Unlock()
		})
	} else {
		expired = true
	}

	l.mx.Lock()
	l.cvs[cv] = true
	for l.id == last && !expired {
		cv.Wait()
	}
	delete(l.cvs, cv)
	last = l.id
	l.mx.Unlock()
	if timer != nil {
		timer.Stop()
	}
	return last
}

// MultiLogger fans one log.Logger out to a set of destinations, so
// pool events reach both stderr and the retained ring.  Destinations
// form a set: adding a logger twice keeps a single copy.  Each
// destination keeps its own prefix and flags.
type MultiLogger struct {
	log *log.Logger
	dst map[*log.Logger]bool
	mx  sync.Mutex
}

func NewMultiLogger() *MultiLogger {
	m := &MultiLogger{dst: make(map[*log.Logger]bool)}
	m.log = log.New(m, "", 0)
	return m
}

// Write implements io.Writer for use behind Logger.  Input is text,
// delimited by newlines, delivered a line at a time.  Delivery runs
// against a snapshot of the set, outside the lock, so a slow
// destination never blocks AddLogger or DelLogger.
func (m *MultiLogger) Write(b []byte) (int, error) {
	m.mx.Lock()
	dst := make([]*log.Logger, 0, len(m.dst))
	for logger := range m.dst {
		dst = append(dst, logger)
	}
	m.mx.Unlock()
	for _, line := range strings.Split(strings.Trim(string(b), "\n"), "\n") {
		for _, logger := range dst {
			logger.Println(line)
		}
	}
	return len(b), nil
}

// AddLogger registers a destination.
func (m *MultiLogger) AddLogger(logger *log.Logger) {
	m.mx.Lock()
	m.dst[logger] = true
	m.mx.Unlock()
}

// DelLogger removes a destination.
func (m *MultiLogger) DelLogger(logger *log.Logger) {
	m.mx.Lock()
	delete(m.dst, logger)
	m.mx.Unlock()
}

func (m *MultiLogger) Logger() *log.Logger {
	return m.log
}
