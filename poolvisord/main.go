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

// poolvisord supervises a pool of worker processes sharing one
// listening socket.  The worker command and its arguments follow the
// flags:
//
//	poolvisord -l :8080 -n 4 -m 512 -- ./myworker -flag
//
// Fatal signals are relayed to the workers and the daemon exits once
// the pool drains.
package main

import (
	"flag"
	"log"
	"net"
	"net/http"
	"os"

	"github.com/poolvisor/poolvisor"
	"github.com/poolvisor/poolvisor/rest"
)

var (
	apiAddr  = "127.0.0.1:8322"
	poolAddr = "127.0.0.1:8080"
	name     = "poolvisord"
	size     = 2
	limitMB  = 0
)

func main() {
	flag.StringVar(&apiAddr, "a", apiAddr, "operator API address")
	flag.StringVar(&poolAddr, "l", poolAddr, "shared listen address")
	flag.StringVar(&name, "n", name, "pool name")
	flag.IntVar(&size, "s", size, "pool size")
	flag.IntVar(&limitMB, "m", limitMB, "per-worker memory limit (MB, 0 disables)")
	flag.Parse()

	command := flag.Args()
	if len(command) == 0 {
		log.Fatalf("No worker command given")
	}

	ln, e := net.Listen("tcp", poolAddr)
	if e != nil {
		log.Fatalf("Failed to open shared listener %s: %v", poolAddr, e)
	}
	lf, e := ln.(*net.TCPListener).File()
	if e != nil {
		log.Fatalf("Failed to dup shared listener: %v", e)
	}

	launcher := &poolvisor.ExecLauncher{
		Command:  command,
		Listener: lf,
	}
	p, e := poolvisor.NewPool(poolvisor.Config{
		Name:     name,
		Launcher: launcher,
		Policy: poolvisor.Policy{
			PoolSize:      size,
			ResourceLimit: uint64(limitMB) * 1024 * 1024,
		},
	})
	if e != nil {
		log.Fatalf("Failed to start pool: %v", e)
	}

	relay := poolvisor.NewRelay(p)
	relay.Start()

	go func() {
		log.Fatal(http.ListenAndServe(apiAddr, rest.NewHandler(p)))
	}()

	// The relay turns fatal signals into a drain; all that is left is
	// to wait for the registry to empty.
	p.Wait()
	relay.Stop()
	os.Exit(0)
}
