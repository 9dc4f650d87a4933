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

// State is the lifecycle state of a single worker.  A worker walks the
// states strictly forward, one edge at a time:
//
//	Forked -> Online -> Ready -> Listening -> Stopping ->
//	    Stopped -> Disconnected -> Exited
//
// The only edge that skips states is the involuntary one: any state may
// jump directly to Exited when the OS reports that the process is gone.
// That jump is treated as an abnormal exit.
//
// Splitting Ready (initialized, not accepting) from Listening
// (accepting) is what makes make-before-break handover possible: a
// replacement is held at Ready until the supervisor authorizes it, and
// the incumbent is only told to stop once the replacement has
// independently confirmed Listening.
type State int

const (
	Forked State = iota
	Online
	Ready
	Listening
	Stopping
	Stopped
	Disconnected
	Exited
)

var stateNames = map[State]string{
	Forked:       "forked",
	Online:       "online",
	Ready:        "ready",
	Listening:    "listening",
	Stopping:     "stopping",
	Stopped:      "stopped",
	Disconnected: "disconnected",
	Exited:       "exited",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// alive reports whether the worker still has a supervised OS process.
func (s State) alive() bool {
	return s != Exited
}

// serving reports whether the worker counts toward the effective pool
// size.  Ready workers count: they are one Start message away from
// accepting, and during handover they are what keeps the pool at N+1
// rather than N-1.
func (s State) serving() bool {
	return s == Ready || s == Listening
}

// canTransition reports whether from -> to is a legal edge of the
// lifecycle graph.  States never regress, and no edge skips a state
// except the involuntary crash edge into Exited.
func canTransition(from, to State) bool {
	if from == Exited {
		return false
	}
	if to == Exited {
		return true
	}
	return to == from+1
}
