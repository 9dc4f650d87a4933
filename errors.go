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
	"errors"
)

var (
	ErrNoSuchWorker  = errors.New("No such worker")
	ErrBadTransition = errors.New("Illegal lifecycle transition")
	ErrBadState      = errors.New("Worker not in required state")
	ErrBadMessage    = errors.New("Malformed control message")
	ErrBadSample     = errors.New("Malformed usage sample")
	ErrDupWorker     = errors.New("Worker id already registered")
	ErrPoolClosed    = errors.New("Pool is shut down")
	ErrBadPoolSize   = errors.New("Pool size must be at least one")
	ErrNoLauncher    = errors.New("No launcher configured")
)
