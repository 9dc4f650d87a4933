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
	"time"
)

// Policy controls when workers are retired and how patient the
// supervisor is with the steps of a handover.
type Policy struct {
	// PoolSize is N, the number of workers kept in Ready or
	// Listening outside handover windows.
	PoolSize int

	// ResourceLimit is the usage budget in bytes.  A Listening
	// worker sampled above the limit is retired.  Zero disables the
	// threshold trigger.
	ResourceLimit uint64

	// SampleInterval is how often Listening workers are sampled.
	SampleInterval time.Duration

	// ListenTimeout bounds the window from spawning a replacement
	// to it confirming Listening.  On expiry the candidate is
	// terminated and the handover retried; the incumbent keeps
	// serving and is never told to stop early.
	ListenTimeout time.Duration

	// DrainTimeout bounds the window from sending Stop to observing
	// Exited.  On expiry the retiring worker is force-terminated and
	// the event logged as degraded.
	DrainTimeout time.Duration

	// RetryBackoff is the delay before the first handover retry.
	// Subsequent retries double it, capped at MaxRetryBackoff.
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration

	// MaxRetries bounds handover retries per retirement.  Once
	// exhausted the retirement is abandoned, the incumbent keeps
	// serving, and an alert is logged.
	MaxRetries int
}

const (
	defaultSampleInterval  = 10 * time.Second
	defaultListenTimeout   = 30 * time.Second
	defaultDrainTimeout    = time.Minute
	defaultRetryBackoff    = time.Second
	defaultMaxRetryBackoff = 30 * time.Second
	defaultMaxRetries      = 5
)

func (p Policy) withDefaults() Policy {
	if p.SampleInterval <= 0 {
		p.SampleInterval = defaultSampleInterval
	}
	if p.ListenTimeout <= 0 {
		p.ListenTimeout = defaultListenTimeout
	}
	if p.DrainTimeout <= 0 {
		p.DrainTimeout = defaultDrainTimeout
	}
	if p.RetryBackoff <= 0 {
		p.RetryBackoff = defaultRetryBackoff
	}
	if p.MaxRetryBackoff < p.RetryBackoff {
		p.MaxRetryBackoff = defaultMaxRetryBackoff
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = defaultMaxRetries
	}
	return p
}

// backoff returns the delay before retry attempt n (first retry is 1).
func (p Policy) backoff(n int) time.Duration {
	d := p.RetryBackoff
	for i := 1; i < n; i++ {
		d *= 2
		if d >= p.MaxRetryBackoff {
			return p.MaxRetryBackoff
		}
	}
	if d > p.MaxRetryBackoff {
		d = p.MaxRetryBackoff
	}
	return d
}

// overLimit reports whether a usage sample breaches the budget.  Stale
// samples never trigger a retirement; staleness is tolerated but a
// breach must be based on fresh data.
func (p Policy) overLimit(usage uint64, sampledAt, now time.Time) bool {
	if p.ResourceLimit == 0 || usage <= p.ResourceLimit {
		return false
	}
	if sampledAt.IsZero() || now.Sub(sampledAt) > 3*p.SampleInterval {
		return false
	}
	return true
}
