// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import (
	"fmt"

	"lukago.dev/lua/internal/luacode"
)

// Debug holds information about a function's activation record,
// as returned by [*State.Info].
type Debug struct {
	// What is "Lua" for a Lua function, "main" for a chunk's top-level function,
	// or "Go" for a function implemented as a [Function].
	What string
	// Name is a reasonable name for the function, or the empty string
	// if a name could not be found.
	Name string
	// NameWhat explains how Name was derived: "global", "local", "method",
	// "field", "upvalue", or the empty string if Name is empty.
	NameWhat string

	// Source is the source of the chunk that created the function,
	// formatted per [luacode.Source.String].
	Source string
	// ShortSource is a printable version of Source, for use in error messages.
	ShortSource string
	// LineDefined is the line where the function definition starts,
	// or -1 for a function implemented in Go.
	LineDefined int
	// LastLineDefined is the line where the function definition ends,
	// or -1 for a function implemented in Go.
	LastLineDefined int
	// CurrentLine is the current line executing in the function,
	// or -1 if that information isn't available.
	CurrentLine int
}

// Info returns information about the function running at the given level
// of the call stack.
// Level 0 is the running function, level 1 is the function that called it,
// and so on.
// Info returns nil if level is out of range.
func (l *State) Info(level int) *Debug {
	if level < 0 || level >= len(l.callStack) {
		return nil
	}
	frame := &l.callStack[len(l.callStack)-1-level]
	ar := &Debug{CurrentLine: -1}
	switch f := l.stack[frame.functionIndex].(type) {
	case luaFunction:
		ar.What = "Lua"
		if f.proto.IsMainChunk() {
			ar.What = "main"
		}
		ar.Source = f.proto.Source.String()
		ar.ShortSource = ar.Source
		ar.LineDefined = f.proto.LineDefined
		ar.LastLineDefined = f.proto.LastLineDefined
		if frame.pc >= 0 && frame.pc < f.proto.LineInfo.Len() {
			ar.CurrentLine = f.proto.LineInfo.At(frame.pc)
		}
	case goFunction:
		ar.What = "Go"
		ar.Source = "=[Go]"
		ar.ShortSource = "[Go]"
		ar.LineDefined = -1
		ar.LastLineDefined = -1
	}
	return ar
}

// sourceLocation formats a human-readable "file:line" description
// of the instruction at pc in proto, for use in runtime error messages.
func sourceLocation(proto *luacode.Prototype, pc int) string {
	if proto == nil {
		return "?"
	}
	line := 0
	if pc >= 0 && pc < proto.LineInfo.Len() {
		line = proto.LineInfo.At(pc)
	}
	return fmt.Sprintf("%s:%d", proto.Source, line)
}

func (l *State) localVariableName(frame *callFrame, i int) string {
	if start, end := frame.extraArgumentsRange(); start <= i && i < end {
		return "(vararg)"
	}
	registerStart := frame.registerStart()
	if i < registerStart {
		return ""
	}
	f, isLua := l.stack[frame.functionIndex].(luaFunction)
	if !isLua {
		return "(Go temporary)"
	}
	if i >= int(f.proto.MaxStackSize) {
		return ""
	}
	name := f.proto.LocalName(uint8(i), frame.pc)
	if name == "" {
		name = "(temporary)"
	}
	return name
}
