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
	"strconv"
	"strings"
)

// Sampler supplies periodic resource usage snapshots for workers.  The
// pool only consumes a numeric value; it stamps the sample time
// itself.  Workers may additionally self-report usage on control
// messages, which the pool treats the same way.
type Sampler interface {
	// Sample returns the current usage of the process in bytes.
	Sample(pid int) (uint64, error)
}

// SamplerFunc adapts a plain function to the Sampler interface.
type SamplerFunc func(pid int) (uint64, error)

func (f SamplerFunc) Sample(pid int) (uint64, error) {
	return f(pid)
}

// ProcSampler reads resident set size from /proc/<pid>/statm.  Only
// useful on Linux; other platforms should supply their own Sampler.
type ProcSampler struct {
	pageSize uint64
}

func NewProcSampler() *ProcSampler {
	return &ProcSampler{pageSize: uint64(os.Getpagesize())}
}

func (s *ProcSampler) Sample(pid int) (uint64, error) {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/statm")
	if err != nil {
		return 0, err
	}
	// statm fields: size resident shared text lib data dt
	fields := strings.Fields(string(b))
	if len(fields) < 2 {
		return 0, ErrBadSample
	}
	pages, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, err
	}
	return pages * s.pageSize, nil
}
