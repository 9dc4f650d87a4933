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
	"io"
	"log"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

// fakeProc is an in-memory worker.  A behavior goroutine plays the
// worker's side of the control protocol; exit closes the message
// channel and then delivers the exit status, matching the order a real
// process produces.
type fakeProc struct {
	id   string
	pid  int
	in   chan *Message
	out  chan *Message
	done chan error

	mx   sync.Mutex
	gone bool
	sigs []os.Signal
}

func (p *fakeProc) Pid() int {
	return p.pid
}

func (p *fakeProc) Send(m *Message) error {
	p.mx.Lock()
	gone := p.gone
	p.mx.Unlock()
	if gone {
		return nil
	}
	p.in <- m
	return nil
}

func (p *fakeProc) Messages() <-chan *Message {
	return p.out
}

func (p *fakeProc) Done() <-chan error {
	return p.done
}

func (p *fakeProc) Signal(sig os.Signal) error {
	p.mx.Lock()
	p.sigs = append(p.sigs, sig)
	p.mx.Unlock()
	if sig == syscall.SIGTERM || sig == syscall.SIGINT {
		p.exit(errors.New("signal: terminated"))
	}
	return nil
}

func (p *fakeProc) Kill() error {
	p.exit(errors.New("signal: killed"))
	return nil
}

func (p *fakeProc) say(t MsgType) {
	p.mx.Lock()
	defer p.mx.Unlock()
	if p.gone {
		return
	}
	p.out <- &Message{Worker: p.id, Type: t}
}

func (p *fakeProc) exit(err error) {
	p.mx.Lock()
	if p.gone {
		p.mx.Unlock()
		return
	}
	p.gone = true
	close(p.out)
	p.mx.Unlock()
	p.done <- err
}

func (p *fakeProc) signals() []os.Signal {
	p.mx.Lock()
	defer p.mx.Unlock()
	return append([]os.Signal{}, p.sigs...)
}

type behavior func(l *fakeLauncher, p *fakeProc)

// fakeLauncher spawns fakeProcs, assigning one scripted behavior per
// launch.  It records the interleaving of listen and stop events so
// tests can assert handover ordering, and tracks the peak number of
// simultaneously live processes.
type fakeLauncher struct {
	mx       sync.Mutex
	behavior func(n int) behavior
	procs    []*fakeProc
	pidseq   int
	events   []string
	maxLive  int
	failWith error
}

func newFakeLauncher(fn func(n int) behavior) *fakeLauncher {
	return &fakeLauncher{behavior: fn, pidseq: 1000}
}

func (l *fakeLauncher) Launch(id string) (WorkerProcess, error) {
	l.mx.Lock()
	if l.failWith != nil {
		err := l.failWith
		l.mx.Unlock()
		return nil, err
	}
	l.pidseq++
	p := &fakeProc{
		id:   id,
		pid:  l.pidseq,
		in:   make(chan *Message, 8),
		out:  make(chan *Message, 8),
		done: make(chan error, 1),
	}
	n := len(l.procs)
	l.procs = append(l.procs, p)
	live := 0
	for _, q := range l.procs {
		q.mx.Lock()
		if !q.gone {
			live++
		}
		q.mx.Unlock()
	}
	if live > l.maxLive {
		l.maxLive = live
	}
	fn := l.behavior(n)
	l.mx.Unlock()
	go fn(l, p)
	return p, nil
}

func (l *fakeLauncher) record(ev string) {
	l.mx.Lock()
	l.events = append(l.events, ev)
	l.mx.Unlock()
}

func (l *fakeLauncher) timeline() []string {
	l.mx.Lock()
	defer l.mx.Unlock()
	return append([]string{}, l.events...)
}

func (l *fakeLauncher) launches() int {
	l.mx.Lock()
	defer l.mx.Unlock()
	return len(l.procs)
}

func (l *fakeLauncher) proc(i int) *fakeProc {
	l.mx.Lock()
	defer l.mx.Unlock()
	return l.procs[i]
}

// wellBehaved plays the full graceful lifecycle.
func wellBehaved(l *fakeLauncher, p *fakeProc) {
	p.say(MsgOnline)
	p.say(MsgReady)
	for m := range p.in {
		switch m.Type {
		case MsgStart:
			l.record("listening:" + p.id)
			p.say(MsgListening)
		case MsgStop:
			l.record("stop:" + p.id)
			p.say(MsgStopped)
			p.exit(nil)
			return
		}
	}
}

// stuckReady reaches Ready and then ignores the start authorization.
func stuckReady(l *fakeLauncher, p *fakeProc) {
	p.say(MsgOnline)
	p.say(MsgReady)
	for range p.in {
	}
}

// slowDrain is wellBehaved except that on stop it waits for the test
// to release it before confirming.
func slowDrain(release chan struct{}) behavior {
	return func(l *fakeLauncher, p *fakeProc) {
		p.say(MsgOnline)
		p.say(MsgReady)
		for m := range p.in {
			switch m.Type {
			case MsgStart:
				l.record("listening:" + p.id)
				p.say(MsgListening)
			case MsgStop:
				l.record("stop:" + p.id)
				<-release
				p.say(MsgStopped)
				p.exit(nil)
				return
			}
		}
	}
}

func always(b behavior) func(n int) behavior {
	return func(int) behavior { return b }
}

// firstThen plays b1 for the first n launches and b2 afterwards.
func firstThen(n int, b1, b2 behavior) func(int) behavior {
	return func(i int) behavior {
		if i < n {
			return b1
		}
		return b2
	}
}

func waitFor(cond func() bool) bool {
	for i := 0; i < 500; i++ {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func quickPolicy(n int) Policy {
	return Policy{
		PoolSize:        n,
		SampleInterval:  20 * time.Millisecond,
		ListenTimeout:   250 * time.Millisecond,
		DrainTimeout:    250 * time.Millisecond,
		RetryBackoff:    20 * time.Millisecond,
		MaxRetryBackoff: 100 * time.Millisecond,
		MaxRetries:      2,
	}
}

func quietConfig(l Launcher, pol Policy) Config {
	return Config{
		Name:     "test",
		Launcher: l,
		Policy:   pol,
		Sampler:  SamplerFunc(func(int) (uint64, error) { return 0, nil }),
		Logger:   log.New(io.Discard, "", 0),
	}
}

func allListening(p *Pool, n int) func() bool {
	return func() bool {
		count := 0
		for _, w := range p.Workers() {
			if w.State == "listening" {
				count++
			}
		}
		return count == n && p.PoolSize() == n
	}
}

func TestPoolConfig(t *testing.T) {
	Convey("Pool configuration is validated", t, func() {
		_, err := NewPool(Config{})
		So(err, ShouldEqual, ErrNoLauncher)

		l := newFakeLauncher(always(wellBehaved))
		_, err = NewPool(quietConfig(l, Policy{PoolSize: 0}))
		So(err, ShouldEqual, ErrBadPoolSize)
	})
}

func TestSteadyState(t *testing.T) {
	Convey("Given a healthy pool of two", t, func() {
		l := newFakeLauncher(always(wellBehaved))
		p, err := NewPool(quietConfig(l, quickPolicy(2)))
		So(err, ShouldBeNil)
		defer p.Shutdown()

		So(waitFor(allListening(p, 2)), ShouldBeTrue)

		Convey("Nothing churns while under budget", func() {
			time.Sleep(10 * quickPolicy(2).SampleInterval)
			So(l.launches(), ShouldEqual, 2)
			So(p.PoolSize(), ShouldEqual, 2)
			info := p.Info()
			So(info.Crashes, ShouldEqual, 0)
			So(info.FailedHandovers, ShouldEqual, 0)
			So(info.ForcedKills, ShouldEqual, 0)
		})
	})
}

func TestVoluntaryReplacement(t *testing.T) {
	Convey("Given a pool of two with one worker over budget", t, func() {
		l := newFakeLauncher(always(wellBehaved))
		pol := quickPolicy(2)
		pol.ResourceLimit = 1000
		cfg := quietConfig(l, pol)
		cfg.Sampler = SamplerFunc(func(pid int) (uint64, error) {
			if pid == 1001 {
				return 5000, nil
			}
			return 10, nil
		})
		p, err := NewPool(cfg)
		So(err, ShouldBeNil)
		defer p.Shutdown()

		So(waitFor(allListening(p, 2)), ShouldBeTrue)
		heavy := l.proc(0)
		light := l.proc(1)

		Convey("The breaching worker is replaced make-before-break", func() {
			So(waitFor(func() bool {
				if l.launches() < 3 {
					return false
				}
				_, err := p.Worker(heavy.id)
				return err == ErrNoSuchWorker && p.PoolSize() == 2
			}), ShouldBeTrue)

			replacement := l.proc(2)
			tl := l.timeline()
			listenIdx, stopIdx := -1, -1
			for i, ev := range tl {
				if ev == "listening:"+replacement.id && listenIdx < 0 {
					listenIdx = i
				}
				if ev == "stop:"+heavy.id {
					stopIdx = i
				}
			}
			So(listenIdx, ShouldBeGreaterThanOrEqualTo, 0)
			So(stopIdx, ShouldBeGreaterThan, listenIdx)

			Convey("The other worker was never touched", func() {
				w, err := p.Worker(light.id)
				So(err, ShouldBeNil)
				So(w.State, ShouldEqual, "listening")
				So(l.timeline(), ShouldNotContain, "stop:"+light.id)
			})

			Convey("Nothing was counted as degraded", func() {
				info := p.Info()
				So(info.Crashes, ShouldEqual, 0)
				So(info.FailedHandovers, ShouldEqual, 0)
				So(info.ForcedKills, ShouldEqual, 0)
			})
		})
	})
}

func TestHandoverTimeout(t *testing.T) {
	Convey("Given a pool whose replacements never listen", t, func() {
		l := newFakeLauncher(firstThen(1, wellBehaved, stuckReady))
		p, err := NewPool(quietConfig(l, quickPolicy(1)))
		So(err, ShouldBeNil)
		defer p.Shutdown()

		So(waitFor(allListening(p, 1)), ShouldBeTrue)
		incumbent := l.proc(0)

		Convey("Retries back off and the retirement is abandoned", func() {
			So(p.Replace(incumbent.id), ShouldBeNil)

			So(waitFor(func() bool {
				return p.Info().FailedHandovers == 2
			}), ShouldBeTrue)

			So(waitFor(func() bool {
				w, err := p.Worker(incumbent.id)
				return err == nil && w.State == "listening" && p.PoolSize() == 1
			}), ShouldBeTrue)

			// Two candidates, both timed out; the incumbent was never
			// told to stop.
			So(l.launches(), ShouldEqual, 3)
			So(l.timeline(), ShouldNotContain, "stop:"+incumbent.id)
			So(p.Info().Crashes, ShouldEqual, 0)
		})
	})
}

func TestCrashReplacement(t *testing.T) {
	Convey("Given a pool of two", t, func() {
		l := newFakeLauncher(always(wellBehaved))
		p, err := NewPool(quietConfig(l, quickPolicy(2)))
		So(err, ShouldBeNil)
		defer p.Shutdown()

		So(waitFor(allListening(p, 2)), ShouldBeTrue)
		victim := l.proc(0)

		Convey("A crash is counted and healed", func() {
			victim.exit(errors.New("segfault"))

			So(waitFor(func() bool {
				return p.Info().Crashes == 1 && p.PoolSize() == 2
			}), ShouldBeTrue)
			So(waitFor(allListening(p, 2)), ShouldBeTrue)

			_, err := p.Worker(victim.id)
			So(err, ShouldEqual, ErrNoSuchWorker)
			So(l.launches(), ShouldEqual, 3)
		})
	})
}

func TestReplaceIdempotent(t *testing.T) {
	Convey("Given a pool of one with a slow-draining worker", t, func() {
		release := make(chan struct{})
		l := newFakeLauncher(firstThen(1, slowDrain(release), wellBehaved))
		pol := quickPolicy(1)
		pol.DrainTimeout = 5 * time.Second
		p, err := NewPool(quietConfig(l, pol))
		So(err, ShouldBeNil)
		defer p.Shutdown()

		So(waitFor(allListening(p, 1)), ShouldBeTrue)
		incumbent := l.proc(0)

		Convey("A second replace during the drain adds nothing", func() {
			So(p.Replace(incumbent.id), ShouldBeNil)

			So(waitFor(func() bool {
				w, err := p.Worker(incumbent.id)
				return err == nil && w.State == "stopping"
			}), ShouldBeTrue)
			So(l.launches(), ShouldEqual, 2)

			So(p.Replace(incumbent.id), ShouldBeNil)
			So(p.Replace(incumbent.id), ShouldBeNil)
			close(release)

			So(waitFor(func() bool {
				_, err := p.Worker(incumbent.id)
				return err == ErrNoSuchWorker
			}), ShouldBeTrue)

			So(l.launches(), ShouldEqual, 2)
			stops := 0
			for _, ev := range l.timeline() {
				if ev == "stop:"+incumbent.id {
					stops++
				}
			}
			So(stops, ShouldEqual, 1)
		})
	})
}

func TestDrainWindowStable(t *testing.T) {
	Convey("Given a handover whose incumbent drains slowly", t, func() {
		release := make(chan struct{})
		l := newFakeLauncher(firstThen(1, slowDrain(release), wellBehaved))
		pol := quickPolicy(1)
		pol.DrainTimeout = 5 * time.Second
		p, err := NewPool(quietConfig(l, pol))
		So(err, ShouldBeNil)
		defer p.Shutdown()

		So(waitFor(allListening(p, 1)), ShouldBeTrue)
		incumbent := l.proc(0)

		Convey("Sampling ticks during the drain spawn nothing", func() {
			So(p.Replace(incumbent.id), ShouldBeNil)
			So(waitFor(func() bool {
				w, err := p.Worker(incumbent.id)
				return err == nil && w.State == "stopping"
			}), ShouldBeTrue)

			// Hold the drain open across many sampling intervals; the
			// confirmed candidate is the whole pool now, and the
			// draining incumbent must not be double-counted as a
			// deficit.
			time.Sleep(15 * pol.SampleInterval)
			So(l.launches(), ShouldEqual, 2)
			So(len(p.Workers()), ShouldEqual, 2)
			So(p.PoolSize(), ShouldEqual, 1)

			close(release)
			So(waitFor(func() bool {
				_, err := p.Worker(incumbent.id)
				return err == ErrNoSuchWorker
			}), ShouldBeTrue)
			So(l.launches(), ShouldEqual, 2)
		})
	})
}

func TestReplaceErrors(t *testing.T) {
	Convey("Replace rejects what it cannot do", t, func() {
		l := newFakeLauncher(always(stuckReady))
		pol := quickPolicy(1)
		pol.ListenTimeout = 10 * time.Second
		p, err := NewPool(quietConfig(l, pol))
		So(err, ShouldBeNil)
		defer p.Shutdown()

		So(waitFor(func() bool {
			ws := p.Workers()
			return len(ws) == 1 && ws[0].State == "ready"
		}), ShouldBeTrue)

		Convey("Unknown workers are an error", func() {
			So(p.Replace("no-such-id"), ShouldEqual, ErrNoSuchWorker)
		})

		Convey("A worker that is not serving traffic cannot be replaced", func() {
			So(p.Replace(l.proc(0).id), ShouldEqual, ErrBadState)
		})
	})
}

func TestForcedDrain(t *testing.T) {
	Convey("Given a worker that never confirms its stop", t, func() {
		release := make(chan struct{})
		defer close(release)
		l := newFakeLauncher(firstThen(1, slowDrain(release), wellBehaved))
		p, err := NewPool(quietConfig(l, quickPolicy(1)))
		So(err, ShouldBeNil)
		defer p.Shutdown()

		So(waitFor(allListening(p, 1)), ShouldBeTrue)
		incumbent := l.proc(0)

		Convey("The drain grace period forces termination", func() {
			So(p.Replace(incumbent.id), ShouldBeNil)

			So(waitFor(func() bool {
				info := p.Info()
				return info.ForcedKills == 1
			}), ShouldBeTrue)
			So(waitFor(func() bool {
				_, err := p.Worker(incumbent.id)
				return err == ErrNoSuchWorker && p.PoolSize() == 1
			}), ShouldBeTrue)
			So(p.Info().Crashes, ShouldEqual, 0)
		})
	})
}

func TestSignalRelay(t *testing.T) {
	Convey("Given a pool of two", t, func() {
		l := newFakeLauncher(always(wellBehaved))
		p, err := NewPool(quietConfig(l, quickPolicy(2)))
		So(err, ShouldBeNil)

		So(waitFor(allListening(p, 2)), ShouldBeTrue)

		Convey("A benign signal reaches every worker and nothing drains", func() {
			So(p.RelaySignal(syscall.SIGUSR1), ShouldBeNil)
			So(waitFor(func() bool {
				for i := 0; i < 2; i++ {
					found := false
					for _, s := range l.proc(i).signals() {
						if s == syscall.SIGUSR1 {
							found = true
						}
					}
					if !found {
						return false
					}
				}
				return true
			}), ShouldBeTrue)
			So(p.Info().Draining, ShouldBeFalse)
			So(p.PoolSize(), ShouldEqual, 2)
			p.Shutdown()
		})

		Convey("A fatal signal drains the pool and releases Wait", func() {
			So(p.RelaySignal(syscall.SIGTERM), ShouldBeNil)
			p.Wait()
			So(len(p.Workers()), ShouldEqual, 0)
			info := p.Info()
			So(info.Draining, ShouldBeTrue)
			So(info.Crashes, ShouldEqual, 0)
			for i := 0; i < 2; i++ {
				So(l.proc(i).signals(), ShouldContain, syscall.SIGTERM)
			}
		})
	})
}

func TestShutdown(t *testing.T) {
	Convey("Given a pool of two", t, func() {
		l := newFakeLauncher(always(wellBehaved))
		p, err := NewPool(quietConfig(l, quickPolicy(2)))
		So(err, ShouldBeNil)

		So(waitFor(allListening(p, 2)), ShouldBeTrue)

		Convey("Shutdown drains both workers gracefully", func() {
			p.Shutdown()
			So(len(p.Workers()), ShouldEqual, 0)
			info := p.Info()
			So(info.Crashes, ShouldEqual, 0)
			So(info.ForcedKills, ShouldEqual, 0)
			tl := l.timeline()
			So(tl, ShouldContain, "stop:"+l.proc(0).id)
			So(tl, ShouldContain, "stop:"+l.proc(1).id)

			Convey("The closed pool rejects further requests", func() {
				So(p.Replace("anything"), ShouldEqual, ErrPoolClosed)
			})
		})
	})
}

func TestResize(t *testing.T) {
	Convey("Given a pool of one", t, func() {
		l := newFakeLauncher(always(wellBehaved))
		p, err := NewPool(quietConfig(l, quickPolicy(1)))
		So(err, ShouldBeNil)
		defer p.Shutdown()

		So(waitFor(allListening(p, 1)), ShouldBeTrue)

		Convey("Zero is not a pool size", func() {
			So(p.SetPoolSize(0), ShouldEqual, ErrBadPoolSize)
		})

		Convey("Growth spawns immediately", func() {
			So(p.SetPoolSize(3), ShouldBeNil)
			So(waitFor(allListening(p, 3)), ShouldBeTrue)
			So(l.launches(), ShouldEqual, 3)

			Convey("Shrink drains the newest workers without replacement", func() {
				So(p.SetPoolSize(1), ShouldBeNil)
				So(waitFor(func() bool {
					return p.PoolSize() == 1 && len(p.Workers()) == 1
				}), ShouldBeTrue)
				So(l.launches(), ShouldEqual, 3)

				// The survivor is the original, oldest worker.
				w, err := p.Worker(l.proc(0).id)
				So(err, ShouldBeNil)
				So(w.State, ShouldEqual, "listening")
			})
		})
	})
}

func TestRollingRestart(t *testing.T) {
	Convey("Given a pool of two", t, func() {
		l := newFakeLauncher(always(wellBehaved))
		p, err := NewPool(quietConfig(l, quickPolicy(2)))
		So(err, ShouldBeNil)
		defer p.Shutdown()

		So(waitFor(allListening(p, 2)), ShouldBeTrue)
		first := l.proc(0)
		second := l.proc(1)

		Convey("Every worker is replaced, one handover at a time", func() {
			So(p.RollingRestart(), ShouldBeNil)

			So(waitFor(func() bool {
				if l.launches() != 4 || p.PoolSize() != 2 {
					return false
				}
				_, e1 := p.Worker(first.id)
				_, e2 := p.Worker(second.id)
				return e1 == ErrNoSuchWorker && e2 == ErrNoSuchWorker
			}), ShouldBeTrue)

			// Serialized handovers keep the pool at N+1, never N+2.
			l.mx.Lock()
			maxLive := l.maxLive
			l.mx.Unlock()
			So(maxLive, ShouldBeLessThanOrEqualTo, 3)
			So(p.Info().FailedHandovers, ShouldEqual, 0)
		})
	})
}

func TestProtocolViolation(t *testing.T) {
	Convey("Given a listening worker", t, func() {
		l := newFakeLauncher(always(wellBehaved))
		p, err := NewPool(quietConfig(l, quickPolicy(1)))
		So(err, ShouldBeNil)
		defer p.Shutdown()

		So(waitFor(allListening(p, 1)), ShouldBeTrue)

		Convey("An out-of-order frame is discarded and counted", func() {
			l.proc(0).say(MsgOnline)
			So(waitFor(func() bool {
				return p.Info().Violations == 1
			}), ShouldBeTrue)

			w, err := p.Worker(l.proc(0).id)
			So(err, ShouldBeNil)
			So(w.State, ShouldEqual, "listening")
		})
	})
}

func TestSpawnFailureHealed(t *testing.T) {
	Convey("Given a launcher that fails transiently", t, func() {
		l := newFakeLauncher(always(wellBehaved))
		l.failWith = errors.New("fork: resource temporarily unavailable")
		p, err := NewPool(quietConfig(l, quickPolicy(2)))
		So(err, ShouldBeNil)
		defer p.Shutdown()

		Convey("The pool fills once spawning recovers", func() {
			So(p.PoolSize(), ShouldEqual, 0)
			l.mx.Lock()
			l.failWith = nil
			l.mx.Unlock()

			So(waitFor(allListening(p, 2)), ShouldBeTrue)
			So(l.launches(), ShouldEqual, 2)
		})
	})
}
