package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chazu/scumm/vm"
)

// ErrStopped is returned by Do after the worker has been stopped.
var ErrStopped = errors.New("worker stopped")

// Status is the lifecycle state of a session worker.
type Status uint8

const (
	StatusIdle Status = iota
	StatusRunning
	StatusFaulted
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusFaulted:
		return "faulted"
	case StatusStopped:
		return "stopped"
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Alive reports whether the session can still make progress.
func (s Status) Alive() bool { return s == StatusIdle || s == StatusRunning }

// request represents a unit of work to be executed on the VM goroutine.
type request struct {
	fn   func(*vm.VM) error
	done chan error
}

// Worker serializes all access to one VM through a single goroutine.
// The interpreter is single-threaded; ticks and external requests
// (snapshots, script starts, room changes) all go through Do.
type Worker struct {
	vm       *vm.VM
	rate     int
	requests chan request
	quit     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	status   Status
	fault    error
	watchers []func(Status)
}

// NewWorker creates a Worker ticking at rate passes per second and starts
// its processing goroutine.
func NewWorker(v *vm.VM, rate int) *Worker {
	if rate <= 0 {
		rate = 60
	}
	w := &Worker{
		vm:       v,
		rate:     rate,
		requests: make(chan request, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes VM requests sequentially on a dedicated goroutine.
func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs a function on the VM, recovering from panics.
func (w *Worker) execute(fn func(*vm.VM) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker: panic: %v", r)
		}
	}()
	return fn(w.vm)
}

// Do submits a function for execution on the VM goroutine and blocks
// until it completes.
func (w *Worker) Do(fn func(*vm.VM) error) error {
	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case w.requests <- req:
	case <-w.quit:
		return ErrStopped
	}
	select {
	case err := <-req.done:
		return err
	case <-w.quit:
		return ErrStopped
	}
}

// Run ticks the VM until ctx ends, the worker is stopped or a tick
// faults. A fault is recorded and returned; the other endings return nil.
func (w *Worker) Run(ctx context.Context) error {
	if st := w.Status(); !st.Alive() {
		return fmt.Errorf("worker is %s: %w", st, w.Err())
	}
	w.setStatus(StatusRunning, nil)
	log.Infof("session running at %d ticks/s", w.rate)

	t := time.NewTicker(time.Second / time.Duration(w.rate))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.setStatus(StatusIdle, nil)
			return nil
		case <-w.quit:
			return nil
		case <-t.C:
		}
		err := w.Do(func(v *vm.VM) error { return v.Tick(ctx) })
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			w.setStatus(StatusIdle, nil)
			return nil
		case errors.Is(err, ErrStopped):
			return nil
		default:
			log.Errorf("session faulted: %v", err)
			w.setStatus(StatusFaulted, err)
			return err
		}
	}
}

// Snapshot copies the VM state between two ticks.
func (w *Worker) Snapshot() (*vm.State, error) {
	var st *vm.State
	err := w.Do(func(v *vm.VM) error {
		var err error
		st, err = v.Snapshot()
		return err
	})
	return st, err
}

// Restore loads st into the VM. A faulted session becomes idle again.
func (w *Worker) Restore(st *vm.State) error {
	if err := w.Do(func(v *vm.VM) error { return v.Restore(st) }); err != nil {
		return err
	}
	w.mu.Lock()
	w.fault = nil
	w.mu.Unlock()
	w.setStatus(StatusIdle, nil)
	return nil
}

// Stop shuts down the worker goroutine. Pending and later Do calls return
// ErrStopped.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.quit)
		w.setStatus(StatusStopped, nil)
	})
}

// Status returns the current lifecycle state.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Err returns the fault that ended the session, if any.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fault
}

// Watch registers fn to be called with the current status and every
// later change.
func (w *Worker) Watch(fn func(Status)) {
	w.mu.Lock()
	w.watchers = append(w.watchers, fn)
	st := w.status
	w.mu.Unlock()
	fn(st)
}

func (w *Worker) setStatus(st Status, fault error) {
	w.mu.Lock()
	if w.status == StatusStopped || w.status == st {
		w.mu.Unlock()
		return
	}
	w.status = st
	if fault != nil {
		w.fault = fault
	}
	watchers := append([]func(Status){}, w.watchers...)
	w.mu.Unlock()
	for _, fn := range watchers {
		fn(st)
	}
}
