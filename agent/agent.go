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

// Package agent implements the worker side of the poolvisor control
// protocol.  A worker binary embeds an Agent, supplies callbacks for
// starting and stopping acceptance on the shared listener, and calls
// Run.  The agent handles the protocol: it announces online, runs the
// worker's initialization, announces ready, waits for the supervisor's
// start authorization, and drains on stop.
package agent

import (
	"io"
	"log"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/poolvisor/poolvisor"
)

// Config carries the worker's callbacks and, for tests, overrides for
// the control channel and listener.
type Config struct {
	// Init runs before the agent announces ready.  Optional.
	Init func() error

	// OnStart begins accepting on the shared listener.  It must not
	// block; typically it launches the accept loop.
	OnStart func(l net.Listener) error

	// OnStop stops accepting and blocks until in-flight work has
	// drained.  The agent announces stopped when it returns.
	OnStop func() error

	// In and Out override the control channel ends.  Default to
	// stdin and stdout; worker code must then keep stdout clean and
	// log to stderr.
	In  io.Reader
	Out io.Writer

	// Listener overrides the shared listener.  Defaults to the
	// file descriptor inherited from the supervisor.
	Listener net.Listener

	// Logger defaults to stderr.
	Logger *log.Logger
}

// Agent speaks the control protocol on behalf of one worker process.
type Agent struct {
	id     string
	cfg    Config
	enc    *poolvisor.Encoder
	dec    *poolvisor.Decoder
	ln     net.Listener
	logger *log.Logger
}

func New(cfg Config) *Agent {
	in := cfg.In
	if in == nil {
		in = os.Stdin
	}
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &Agent{
		id:     os.Getenv(poolvisor.EnvWorkerId),
		cfg:    cfg,
		enc:    poolvisor.NewEncoder(out),
		dec:    poolvisor.NewDecoder(in),
		ln:     cfg.Listener,
		logger: logger,
	}
}

// Id returns the worker id the supervisor assigned, or "" when running
// outside a supervisor.
func (a *Agent) Id() string {
	return a.id
}

// Listener returns the shared listener inherited from the supervisor.
func (a *Agent) Listener() (net.Listener, error) {
	if a.ln != nil {
		return a.ln, nil
	}
	f := os.NewFile(uintptr(poolvisor.ListenerFd), "poolvisor-listener")
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, err
	}
	// FileListener dups the descriptor.
	f.Close()
	a.ln = ln
	return ln, nil
}

func (a *Agent) send(t poolvisor.MsgType) error {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return a.enc.Encode(&poolvisor.Message{
		Worker: a.id,
		Type:   t,
		Usage:  ms.Sys,
		Time:   time.Now(),
	})
}

// Run drives the worker through its lifecycle.  It returns nil after a
// graceful stop, or when the supervisor closes the control channel.
// The worker process should exit promptly once Run returns; the
// supervisor observes the exit to finish the handover.
func (a *Agent) Run() error {
	if err := a.send(poolvisor.MsgOnline); err != nil {
		return err
	}
	if a.cfg.Init != nil {
		if err := a.cfg.Init(); err != nil {
			return err
		}
	}
	if err := a.send(poolvisor.MsgReady); err != nil {
		return err
	}

	accepting := false
	for {
		m, err := a.dec.Decode()
		if err == poolvisor.ErrBadMessage {
			a.logger.Printf("discarding malformed frame from supervisor")
			continue
		}
		if err != nil {
			// Control channel gone; the supervisor died or is done
			// with us.
			return nil
		}
		switch m.Type {
		case poolvisor.MsgStart:
			if accepting {
				a.logger.Printf("start while already accepting; ignored")
				continue
			}
			ln, err := a.Listener()
			if err != nil {
				return err
			}
			if a.cfg.OnStart != nil {
				if err := a.cfg.OnStart(ln); err != nil {
					return err
				}
			}
			accepting = true
			if err := a.send(poolvisor.MsgListening); err != nil {
				return err
			}
		case poolvisor.MsgStop:
			if !accepting {
				a.logger.Printf("stop while not accepting; ignored")
				continue
			}
			accepting = false
			if a.cfg.OnStop != nil {
				if err := a.cfg.OnStop(); err != nil {
					a.logger.Printf("drain error: %v", err)
				}
			}
			if err := a.send(poolvisor.MsgStopped); err != nil {
				return err
			}
			return nil
		default:
			a.logger.Printf("unexpected %q from supervisor; ignored", m.Type)
		}
	}
}
