// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import "fmt"

// CoroutineLibraryName is the conventional identifier
// for the [coroutine library].
//
// [coroutine library]: https://www.lua.org/manual/5.4/manual.html#6.2
const CoroutineLibraryName = "coroutine"

// NewOpenCoroutine returns a [Function] that loads the standard coroutine library.
// The resulting function is intended to be used as an argument to [Require].
func NewOpenCoroutine() Function {
	return func(l *State) (int, error) {
		err := NewLib(l, map[string]Function{
			"create":      coroutineCreate,
			"resume":      coroutineResume,
			"yield":       coroutineYield,
			"status":      coroutineStatus,
			"isyieldable": coroutineIsYieldable,
			"running":     coroutineRunning,
			"wrap":        coroutineWrap,
			"close":       coroutineClose,
		})
		if err != nil {
			return 0, err
		}
		return 1, nil
	}
}

func coroutineCreate(l *State) (int, error) {
	if !l.IsFunction(1) {
		return 0, NewTypeError(l, 1, "function")
	}
	v, _, err := l.valueByIndex(1)
	if err != nil {
		return 0, err
	}
	ts := l.NewThread()
	ts.push(v)
	return 1, nil
}

func coroutineResume(l *State) (int, error) {
	if l.Type(1) != TypeThread {
		return 0, NewTypeError(l, 1, "coroutine")
	}
	nArgs := l.Top() - 1
	n, _, err := l.Resume(1, nArgs)
	l.Remove(1) // The coroutine value itself is not part of the results.
	if err != nil {
		l.SetTop(0)
		l.PushBoolean(false)
		l.PushString(err.Error())
		return 2, nil
	}
	l.PushBoolean(true)
	l.Insert(-(n + 1))
	return n + 1, nil
}

func coroutineYield(l *State) (int, error) {
	if l.thread == nil {
		return 0, fmt.Errorf("attempt to yield from outside a coroutine")
	}
	n := l.Top()
	args := make([]value, n)
	for i := 1; i <= n; i++ {
		args[i-1], _, _ = l.valueByIndex(i)
	}
	results := l.thread.yield(args)
	l.SetTop(0)
	for _, rv := range results {
		l.push(rv)
	}
	return len(results), nil
}

func coroutineStatus(l *State) (int, error) {
	v, _, err := l.valueByIndex(1)
	if err != nil {
		return 0, err
	}
	th, ok := v.(*thread)
	if !ok {
		return 0, NewTypeError(l, 1, "coroutine")
	}
	l.PushString(th.status.String())
	return 1, nil
}

func coroutineIsYieldable(l *State) (int, error) {
	l.PushBoolean(l.IsYieldable())
	return 1, nil
}

func coroutineRunning(l *State) (int, error) {
	if l.thread == nil {
		// The main thread has no [*thread] value to push;
		// callers use coroutine.isyieldable to distinguish it.
		l.PushBoolean(true)
		return 1, nil
	}
	l.push(l.thread)
	l.PushBoolean(false)
	return 2, nil
}

// coroutineWrap creates a coroutine and returns a Go closure over it
// that resumes it on each call,
// propagating any error from the coroutine's body as a genuine Go error
// rather than the (false, message) pair that "coroutine.resume" returns.
func coroutineWrap(l *State) (int, error) {
	if !l.IsFunction(1) {
		return 0, NewTypeError(l, 1, "function")
	}
	v, _, err := l.valueByIndex(1)
	if err != nil {
		return 0, err
	}
	ts := l.NewThread()
	thv, _, err := l.valueByIndex(-1)
	if err != nil {
		return 0, err
	}
	th := thv.(*thread)
	l.Pop(1) // The thread is captured by the closure below; it needn't stay on l's stack.
	ts.push(v)

	l.PushClosure(0, func(l *State) (int, error) {
		n := l.Top()
		l.push(th)
		l.Insert(1)
		nResults, _, err := l.Resume(1, n)
		l.Remove(1)
		if err != nil {
			return 0, err
		}
		return nResults, nil
	})
	return 1, nil
}

func coroutineClose(l *State) (int, error) {
	v, _, err := l.valueByIndex(1)
	if err != nil {
		return 0, err
	}
	th, ok := v.(*thread)
	if !ok {
		return 0, NewTypeError(l, 1, "coroutine")
	}
	if th.status != ThreadSuspended && th.status != ThreadDead {
		return 0, fmt.Errorf("cannot close a %s coroutine", th.status)
	}
	th.status = ThreadDead
	l.PushBoolean(true)
	return 1, nil
}
