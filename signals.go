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
	"os"
	"os/signal"
	"syscall"
)

// relayedSignals is the fixed set of signals forwarded to every worker
// in the registry.  SIGKILL and SIGSTOP cannot be intercepted by any
// process; their effect is an abrupt disappearance, which the registry
// detects through the involuntary exit edge.
var relayedSignals = []os.Signal{
	syscall.SIGHUP,
	syscall.SIGINT,
	syscall.SIGTERM,
	syscall.SIGUSR1,
	syscall.SIGUSR2,
	syscall.SIGTSTP,
	syscall.SIGCONT,
}

// fatalSignals are relayed and additionally begin the supervisor's own
// shutdown.  The supervisor defers its exit until the registry drains.
var fatalSignals = map[os.Signal]bool{
	syscall.SIGINT:  true,
	syscall.SIGTERM: true,
}

// RelayedSignals returns the relay table.  Signals outside this set
// keep whatever handling the host process would normally give them.
func RelayedSignals() []os.Signal {
	return append([]os.Signal{}, relayedSignals...)
}

// Fatal reports whether the signal, once relayed, also terminates the
// supervisor after the registry drains.
func Fatal(sig os.Signal) bool {
	return fatalSignals[sig]
}

// Relay installs handlers for the relay table once, and forwards each
// received signal to every tracked worker through the pool.
type Relay struct {
	pool *Pool
	ch   chan os.Signal
	done chan struct{}
}

func NewRelay(p *Pool) *Relay {
	return &Relay{
		pool: p,
		ch:   make(chan os.Signal, 4),
		done: make(chan struct{}),
	}
}

// Start installs the handlers and begins relaying.
func (r *Relay) Start() {
	signal.Notify(r.ch, relayedSignals...)
	go func() {
		for {
			select {
			case sig := <-r.ch:
				r.pool.RelaySignal(sig)
			case <-r.done:
				return
			}
		}
	}()
}

// Stop uninstalls the handlers.  Pending signals are dropped.
func (r *Relay) Stop() {
	signal.Stop(r.ch)
	close(r.done)
}
