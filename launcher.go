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
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
)

// EnvWorkerId is the environment variable through which a spawned
// worker learns its own id, so that it can stamp control messages.
const EnvWorkerId = "POOLVISOR_WORKER_ID"

// ListenerFd is the file descriptor number at which a spawned worker
// finds the shared listener.
const ListenerFd = 3

// Launcher creates worker processes.  Implementations other than
// ExecLauncher exist mainly so the pool can be driven by fake workers
// in tests.
type Launcher interface {
	// Launch spawns a worker and returns its process handle.  The
	// returned process is already running; its control channel is
	// open and its lifecycle events will flow from the handle.
	Launch(id string) (WorkerProcess, error)
}

// WorkerProcess is the handle to one supervised OS process.  The
// Messages channel delivers worker-to-supervisor frames in send order
// and is closed when the control channel disconnects.  Done delivers
// the process exit exactly once.
type WorkerProcess interface {
	// Pid returns the OS process identifier.
	Pid() int

	// Send writes a supervisor-to-worker frame.
	Send(m *Message) error

	// Messages returns the inbound frame channel.  It is closed on
	// control channel disconnect, whether graceful or not.
	Messages() <-chan *Message

	// Done returns a channel that delivers the process exit status
	// once the OS has reaped it.
	Done() <-chan error

	// Signal forwards an OS signal to the process.
	Signal(sig os.Signal) error

	// Kill force-terminates the process.  A last resort; the exit
	// still surfaces through Done.
	Kill() error
}

// ExecLauncher launches workers with os/exec.  The control channel
// rides on the child's stdin (supervisor to worker) and stdout (worker
// to supervisor); stderr is forwarded line-wise into the supervisor
// log.  The shared listener, if set, is inherited at ListenerFd.
type ExecLauncher struct {
	// Command is the worker argv.  Command[0] is the binary.
	Command []string

	// Dir is the working directory for workers, if not empty.
	Dir string

	// Env is appended to the supervisor's own environment.
	Env []string

	// Listener is a dup of the shared listening socket, typically
	// obtained from net.TCPListener.File.  Nil is allowed for
	// workers that listen on their own.
	Listener *os.File

	// Logger receives worker stderr lines.  Defaults to the stdlib
	// default logger.
	Logger *log.Logger
}

type execProcess struct {
	id   string
	cmd  *exec.Cmd
	enc  *Encoder
	msgs chan *Message
	done chan error
}

func (l *ExecLauncher) Launch(id string) (WorkerProcess, error) {
	if len(l.Command) == 0 {
		return nil, ErrNoLauncher
	}
	cmd := exec.Command(l.Command[0], l.Command[1:]...)
	cmd.Dir = l.Dir
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Env = append(cmd.Env, EnvWorkerId+"="+id)
	if l.Listener != nil {
		cmd.ExtraFiles = []*os.File{l.Listener}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &execProcess{
		id:   id,
		cmd:  cmd,
		enc:  NewEncoder(stdin),
		msgs: make(chan *Message, 8),
		done: make(chan error, 1),
	}

	logger := l.Logger
	if logger == nil {
		logger = log.Default()
	}
	go p.readFrames(stdout, logger)
	go forwardLines(stderr, logger, "["+shortId(id)+"] ")
	go func() {
		p.done <- cmd.Wait()
	}()
	return p, nil
}

// readFrames decodes worker frames until the channel disconnects.
// Malformed frames are logged and skipped; the worker's recorded state
// remains the source of truth either way.
func (p *execProcess) readFrames(r io.Reader, logger *log.Logger) {
	dec := NewDecoder(r)
	for {
		m, err := dec.Decode()
		if err == ErrBadMessage {
			logger.Printf("[%s] discarding malformed frame", shortId(p.id))
			continue
		}
		if err != nil {
			close(p.msgs)
			return
		}
		p.msgs <- m
	}
}

// forwardLines gathers a stream in chunks of lines and relays them to
// the logger with a prefix.
func forwardLines(r io.Reader, logger *log.Logger, prefix string) {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if len(line) != 0 {
			logger.Print(prefix, strings.Trim(line, "\n"))
		}
		if err != nil {
			return
		}
	}
}

func (p *execProcess) Pid() int {
	if p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

func (p *execProcess) Send(m *Message) error {
	return p.enc.Encode(m)
}

func (p *execProcess) Messages() <-chan *Message {
	return p.msgs
}

func (p *execProcess) Done() <-chan error {
	return p.done
}

func (p *execProcess) Signal(sig os.Signal) error {
	if p.cmd.Process == nil {
		return ErrNoSuchWorker
	}
	return p.cmd.Process.Signal(sig)
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return ErrNoSuchWorker
	}
	return p.cmd.Process.Kill()
}

// shortId trims a uuid down to something readable in log lines.
func shortId(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
