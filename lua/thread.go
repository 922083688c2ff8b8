// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"errors"
	"fmt"
)

// ThreadStatus is the execution status of a Lua thread (coroutine).
type ThreadStatus int

const (
	// ThreadSuspended means the thread has not started running
	// or has yielded and is waiting to be resumed.
	ThreadSuspended ThreadStatus = iota
	// ThreadRunning means the thread is the one currently executing.
	// Only one thread in a group of threads created on top of the same main thread
	// can be running at a time.
	ThreadRunning
	// ThreadNormal means the thread resumed another thread and is itself
	// waiting for that thread to finish or yield back.
	ThreadNormal
	// ThreadDead means the thread has finished its body function
	// (either normally or with an error) and can no longer be resumed.
	ThreadDead
)

// String returns the Lua-visible name for the status,
// as returned by the "coroutine.status" function.
func (status ThreadStatus) String() string {
	switch status {
	case ThreadSuspended:
		return "suspended"
	case ThreadRunning:
		return "running"
	case ThreadNormal:
		return "normal"
	case ThreadDead:
		return "dead"
	default:
		return fmt.Sprintf("lua.ThreadStatus(%d)", int(status))
	}
}

// thread is the internal representation of a Lua coroutine.
//
// Every [thread] runs its body function on its own goroutine.
// Resuming a thread sends its arguments down resumeCh and blocks
// on signalCh for the thread to either yield, return, or error.
// "coroutine.yield" is implemented by having the running goroutine
// send a signal and then block on resumeCh in turn,
// so at any given moment at most one of a thread tree's goroutines
// is actually doing work; the rest are parked on a channel receive.
type thread struct {
	id     uint64
	parent *thread
	status ThreadStatus

	l *State

	started  bool
	resumeCh chan []value
	signalCh chan threadSignal
}

type threadSignalKind int

const (
	threadYielded threadSignalKind = iota
	threadReturned
	threadErrored
)

type threadSignal struct {
	kind   threadSignalKind
	values []value
	err    error
}

func (t *thread) valueType() Type { return TypeThread }

// NewThread creates a new thread, pushes it onto the stack, and returns
// a [*State] representing the new thread's independent execution context.
// The new thread shares l's global state (the registry and hence _G)
// but has its own call stack.
//
// To start the thread running, push a function onto the returned [*State]'s
// stack (and any initial arguments) and call [*State.Resume] on l.
func (l *State) NewThread() *State {
	l.init()
	th := &thread{
		id:       nextID(),
		status:   ThreadSuspended,
		resumeCh: make(chan []value),
		signalCh: make(chan threadSignal),
	}
	th.l = &State{
		registry:       l.registry,
		typeMetatables: l.typeMetatables,
		thread:         th,
	}
	th.l.init()
	l.push(th)
	return th.l
}

// IsYieldable reports whether l is currently able to yield,
// i.e. whether l is the [*State] for a running coroutine
// (as opposed to the main thread).
func (l *State) IsYieldable() bool {
	return l.thread != nil
}

// Status returns the thread's status.
// If l is not itself a coroutine (i.e. it is the main thread),
// Status panics.
func (l *State) Status() ThreadStatus {
	if l.thread == nil {
		panic("lua: Status called on a thread that is not a coroutine")
	}
	return l.thread.status
}

// errNotACoroutine is returned by [*State.Resume]
// when called with a value that is not a thread created by [*State.NewThread].
var errNotACoroutine = errors.New("lua: value is not a coroutine")

// Resume starts or continues the coroutine at the given stack index,
// passing nArgs argument values from the top of the stack.
// It reports the values yielded or returned by the coroutine,
// pushed onto l's stack,
// and whether the coroutine is still suspended (true) as opposed to
// having run to completion or error (false).
//
// Resume pops its nArgs arguments from l's stack before pushing any results.
func (l *State) Resume(idx int, nArgs int) (results int, yielded bool, err error) {
	l.init()
	v, _, verr := l.valueByIndex(idx)
	if verr != nil {
		return 0, false, verr
	}
	th, ok := v.(*thread)
	if !ok {
		return 0, false, errNotACoroutine
	}
	if th.status != ThreadSuspended {
		return 0, false, fmt.Errorf("lua: cannot resume %s coroutine", th.status)
	}

	args := make([]value, nArgs)
	copy(args, l.stack[len(l.stack)-nArgs:])
	l.Pop(nArgs)

	var caller *thread
	if l.thread != nil {
		caller = l.thread
		caller.status = ThreadNormal
	}
	th.status = ThreadRunning
	th.parent = caller

	if !th.started {
		th.started = true
		go th.run(args)
	} else {
		th.resumeCh <- args
	}

	sig := <-th.signalCh
	if caller != nil {
		caller.status = ThreadRunning
	}

	switch sig.kind {
	case threadYielded:
		th.status = ThreadSuspended
		for _, rv := range sig.values {
			l.push(rv)
		}
		return len(sig.values), true, nil
	case threadReturned:
		th.status = ThreadDead
		for _, rv := range sig.values {
			l.push(rv)
		}
		return len(sig.values), false, nil
	default:
		th.status = ThreadDead
		return 0, false, sig.err
	}
}

// run is the body of the goroutine backing a coroutine thread.
// It is started exactly once, the first time the thread is resumed.
func (t *thread) run(args []value) {
	// The coroutine's body function is expected to already be sitting on
	// t.l's stack (pushed by whoever created the thread, e.g. "coroutine.create").
	for _, a := range args {
		t.l.push(a)
	}
	err := t.l.Call(len(args), MultipleReturns, 0)
	if err != nil {
		t.signalCh <- threadSignal{kind: threadErrored, err: err}
		return
	}
	base := t.l.frame().registerStart()
	results := append([]value(nil), t.l.stack[base:]...)
	t.l.setTop(base)
	t.signalCh <- threadSignal{kind: threadReturned, values: results}
}

// yield suspends the running coroutine, reporting the given values
// as the results of the "coroutine.resume" call that is waiting on it,
// and blocks until the coroutine is resumed again,
// returning the arguments passed to the resuming call.
func (t *thread) yield(values []value) []value {
	t.signalCh <- threadSignal{kind: threadYielded, values: values}
	return <-t.resumeCh
}
