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
	"bufio"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// MsgType tags a control message.  Only the six types below ever cross
// the wire; the Forked, Disconnect and Exit lifecycle events are
// observed by the supervisor through its process primitives (spawn,
// channel EOF, wait) and have no wire representation.
type MsgType string

const (
	// MsgOnline is the first frame a worker writes: its runtime is
	// executing, initialization has not finished.
	MsgOnline MsgType = "online"

	// MsgReady means the worker finished initialization but is not
	// yet accepting from the shared listener.
	MsgReady MsgType = "ready"

	// MsgListening means the worker has begun accepting.
	MsgListening MsgType = "listening"

	// MsgStart authorizes a Ready worker to begin accepting.
	// Supervisor to worker only.
	MsgStart MsgType = "start"

	// MsgStop instructs a Listening worker to stop accepting and
	// finish in-flight work.  Supervisor to worker only.
	MsgStop MsgType = "stop"

	// MsgStopped means the worker no longer accepts; in-flight work
	// may still be draining.
	MsgStopped MsgType = "stopped"
)

var msgTypes = map[MsgType]bool{
	MsgOnline:    true,
	MsgReady:     true,
	MsgListening: true,
	MsgStart:     true,
	MsgStop:      true,
	MsgStopped:   true,
}

// fromWorker reports whether this type may legally be sent by a worker.
func (t MsgType) fromWorker() bool {
	switch t {
	case MsgOnline, MsgReady, MsgListening, MsgStopped:
		return true
	}
	return false
}

// Message is one frame of the control protocol.  Each frame carries
// the sender's worker id and an optional resource usage snapshot in
// bytes.  Frames on a single channel are delivered in send order;
// nothing is promised across channels of different workers.
type Message struct {
	Worker string    `json:"worker,omitempty"`
	Type   MsgType   `json:"type"`
	Usage  uint64    `json:"usage,omitempty"`
	Time   time.Time `json:"time,omitempty"`
}

// Encoder writes newline-delimited JSON frames.  It is safe for
// concurrent use; frames from a single Encoder never interleave.
type Encoder struct {
	w  *bufio.Writer
	mx sync.Mutex
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

func (e *Encoder) Encode(m *Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	e.mx.Lock()
	defer e.mx.Unlock()
	if _, err = e.w.Write(b); err != nil {
		return err
	}
	if err = e.w.WriteByte('\n'); err != nil {
		return err
	}
	return e.w.Flush()
}

// Decoder reads newline-delimited JSON frames.  A malformed frame or
// an unknown tag yields ErrBadMessage rather than tearing the channel
// down; the caller decides whether to keep reading.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

func (d *Decoder) Decode() (*Message, error) {
	line, err := d.r.ReadBytes('\n')
	if err != nil {
		if err == io.EOF && len(line) > 0 {
			// Trailing unterminated frame; try to parse it.
		} else {
			return nil, err
		}
	}
	m := &Message{}
	if err := json.Unmarshal(line, m); err != nil {
		return nil, ErrBadMessage
	}
	if !msgTypes[m.Type] {
		return nil, ErrBadMessage
	}
	return m, nil
}
