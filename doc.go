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

// Package poolvisor provides a zero-downtime worker pool supervisor.
// A single control process owns a shared listening socket and keeps a
// fleet of worker processes accepting from it.  Workers that exceed a
// resource budget are replaced with a make-before-break handover: the
// replacement must be confirmed accepting before the incumbent is told
// to stop, so the pool never refuses connections during a swap.
//
// The supervisor runs a single-threaded event loop over control
// messages, process exits, timers and relayed signals.  Workers speak
// a small newline-delimited JSON protocol over their stdin/stdout
// pair, and inherit the shared listener as a file descriptor.  The
// agent subpackage implements the worker side of that contract.
//
// An instance may be deployed using Go's HTTP handler framework, so
// that it is possible to register the operator API within an existing
// server instance.  See the rest subpackage.
package poolvisor
