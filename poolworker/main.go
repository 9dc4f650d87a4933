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

// poolworker is an example worker: an echo server on the shared
// listener.  The -leak and -crash flags exist to demonstrate the
// supervisor's replacement and crash-recovery behavior.
package main

import (
	"flag"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/poolvisor/poolvisor/agent"
)

var (
	leak  = false
	crash = 0
)

type echoServer struct {
	ln       net.Listener
	inflight sync.WaitGroup
	closing  chan struct{}
	ballast  [][]byte
}

func (s *echoServer) start(ln net.Listener) error {
	s.ln = ln
	s.closing = make(chan struct{})
	go s.acceptLoop()
	if leak {
		go s.leakLoop()
	}
	return nil
}

func (s *echoServer) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.closing:
				return
			default:
				log.Printf("accept: %v", err)
				return
			}
		}
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			defer conn.Close()
			io.Copy(conn, conn)
		}()
	}
}

// leakLoop grows memory until the supervisor's budget retires us.
func (s *echoServer) leakLoop() {
	for {
		select {
		case <-s.closing:
			return
		case <-time.After(100 * time.Millisecond):
			s.ballast = append(s.ballast, make([]byte, 1<<20))
		}
	}
}

// stop releases the accept capability and drains in-flight
// connections.
func (s *echoServer) stop() error {
	close(s.closing)
	s.ln.Close()
	s.inflight.Wait()
	return nil
}

func main() {
	flag.BoolVar(&leak, "leak", leak, "leak memory until replaced")
	flag.IntVar(&crash, "crash", crash, "crash after this many seconds")
	flag.Parse()

	if crash > 0 {
		go func() {
			time.Sleep(time.Duration(crash) * time.Second)
			log.Printf("crashing on request")
			os.Exit(2)
		}()
	}

	s := &echoServer{}
	a := agent.New(agent.Config{
		OnStart: s.start,
		OnStop:  s.stop,
	})
	if err := a.Run(); err != nil {
		log.Fatalf("agent: %v", err)
	}
}
