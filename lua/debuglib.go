// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"fmt"
	"strings"
)

// DebugLibraryName is the conventional identifier for the [debug library].
//
// [debug library]: https://www.lua.org/manual/5.4/manual.html#6.10
const DebugLibraryName = "debug"

// NewOpenDebug returns a [Function] that loads the standard debug library.
// The resulting function is intended to be used as an argument to [Require].
func NewOpenDebug() Function {
	return func(l *State) (int, error) {
		err := NewLib(l, map[string]Function{
			"getinfo":      debugGetInfo,
			"getlocal":     debugGetLocal,
			"getmetatable": debugGetMetatable,
			"setmetatable": debugSetMetatable,
			"getregistry":  debugGetRegistry,
			"getupvalue":   debugGetUpvalue,
			"setupvalue":   debugSetUpvalue,
			"traceback":    debugTraceback,
		})
		if err != nil {
			return 0, err
		}
		return 1, nil
	}
}

func debugGetInfo(l *State) (int, error) {
	arg := 1
	var thread *State
	if l.Type(1) == TypeThread {
		thread, arg = l, arg+1
	}
	if thread == nil {
		thread = l
	}

	var ar *Debug
	funcIndex := -1
	if l.Type(arg) == TypeFunction {
		funcIndex = arg
	} else {
		level, err := CheckInteger(l, arg)
		if err != nil {
			return 0, err
		}
		ar = thread.Info(int(level))
		if ar == nil {
			l.PushNil()
			return 1, nil
		}
	}

	what := "nSlut"
	if !l.IsNoneOrNil(arg + 1) {
		var err error
		what, err = CheckString(l, arg+1)
		if err != nil {
			return 0, err
		}
	}

	l.CreateTable(0, 8)
	if funcIndex >= 0 {
		l.PushValue(funcIndex)
		l.RawSetField(-2, "func")
		if strings.ContainsRune(what, 'S') {
			l.PushString("Go")
			l.RawSetField(-2, "what")
			l.PushString("[Go]")
			l.RawSetField(-2, "short_src")
		}
		return 1, nil
	}

	for _, c := range what {
		switch c {
		case 'S':
			l.PushString(ar.What)
			l.RawSetField(-2, "what")
			l.PushString(ar.Source)
			l.RawSetField(-2, "source")
			l.PushString(ar.ShortSource)
			l.RawSetField(-2, "short_src")
			l.PushInteger(int64(ar.LineDefined))
			l.RawSetField(-2, "linedefined")
			l.PushInteger(int64(ar.LastLineDefined))
			l.RawSetField(-2, "lastlinedefined")
		case 'l':
			l.PushInteger(int64(ar.CurrentLine))
			l.RawSetField(-2, "currentline")
		case 'n':
			l.PushString(ar.Name)
			l.RawSetField(-2, "name")
			l.PushString(ar.NameWhat)
			l.RawSetField(-2, "namewhat")
		}
	}
	return 1, nil
}

func debugGetLocal(l *State) (int, error) {
	level, err := CheckInteger(l, 1)
	if err != nil {
		return 0, err
	}
	n, err := CheckInteger(l, 2)
	if err != nil {
		return 0, err
	}
	if level < 0 || int(level) >= len(l.callStack) {
		return 0, NewArgError(l, 1, "level out of range")
	}
	frame := &l.callStack[len(l.callStack)-1-int(level)]
	registerStart := frame.registerStart()
	idx := registerStart + int(n) - 1
	if idx < registerStart || idx >= len(l.stack) {
		l.PushNil()
		return 1, nil
	}
	name := l.localVariableName(frame, idx)
	if name == "" {
		l.PushNil()
		return 1, nil
	}
	l.PushString(name)
	l.push(l.stack[idx])
	return 2, nil
}

func debugGetMetatable(l *State) (int, error) {
	if !l.Metatable(1) {
		l.PushNil()
	}
	return 1, nil
}

func debugSetMetatable(l *State) (int, error) {
	if got := l.Type(2); got != TypeNil && got != TypeTable {
		return 0, NewArgError(l, 2, "nil or table expected")
	}
	l.SetTop(2)
	l.SetMetatable(1)
	l.SetTop(1)
	return 1, nil
}

func debugGetRegistry(l *State) (int, error) {
	l.PushValue(RegistryIndex)
	return 1, nil
}

func debugGetUpvalue(l *State) (int, error) {
	return auxUpvalue(l, false)
}

func debugSetUpvalue(l *State) (int, error) {
	return auxUpvalue(l, true)
}

func functionValue(l *State, idx int) (function, error) {
	v, _, err := l.valueByIndex(idx)
	if err != nil {
		return nil, err
	}
	f, ok := v.(function)
	if !ok {
		return nil, NewArgError(l, idx, "function expected")
	}
	return f, nil
}

func upvalueName(f function, n int) string {
	lf, ok := f.(luaFunction)
	if !ok {
		return ""
	}
	if n < 1 || n > len(lf.proto.Upvalues) {
		return ""
	}
	name := lf.proto.Upvalues[n-1].Name
	if name == "" {
		return "(no name)"
	}
	return name
}

func auxUpvalue(l *State, set bool) (int, error) {
	n, err := CheckInteger(l, 2)
	if err != nil {
		return 0, err
	}
	f, err := functionValue(l, 1)
	if err != nil {
		return 0, err
	}
	upvalues := f.upvaluesSlice()
	if n < 1 || int(n) > len(upvalues) {
		l.PushNil()
		return 1, nil
	}
	name := upvalueName(f, int(n))
	if set {
		v, _, err := l.valueByIndex(3)
		if err != nil {
			return 0, err
		}
		*l.resolveUpvalue(upvalues[n-1]) = v
		l.SetTop(2)
	} else {
		l.push(*l.resolveUpvalue(upvalues[n-1]))
	}
	l.PushString(name)
	if set {
		return 1, nil
	}
	l.Insert(-2)
	return 2, nil
}

func debugTraceback(l *State) (int, error) {
	msg := ""
	arg := 1
	if l.Type(1) == TypeThread {
		arg++
	}
	if !l.IsNoneOrNil(arg) {
		s, ok := l.ToString(arg)
		if !ok {
			l.PushValue(arg)
			return 1, nil
		}
		msg = s
	}
	level := int64(0)
	if !l.IsNoneOrNil(arg + 1) {
		var err error
		level, err = CheckInteger(l, arg+1)
		if err != nil {
			return 0, err
		}
	}

	sb := new(strings.Builder)
	if msg != "" {
		sb.WriteString(msg)
		sb.WriteByte('\n')
	}
	sb.WriteString("stack traceback:")
	for i := int(level); ; i++ {
		ar := l.Info(i)
		if ar == nil {
			break
		}
		fmt.Fprintf(sb, "\n\t%s:%d: in %s", ar.ShortSource, ar.CurrentLine, describeFrame(ar))
	}
	l.PushString(sb.String())
	return 1, nil
}

func describeFrame(ar *Debug) string {
	switch {
	case ar.What == "main":
		return "main chunk"
	case ar.Name != "":
		return fmt.Sprintf("function '%s'", ar.Name)
	default:
		return fmt.Sprintf("function <%s:%d>", ar.ShortSource, ar.LineDefined)
	}
}
