// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package lua

import "fmt"

// PackageLibraryName is the conventional identifier for the [package library].
//
// [package library]: https://www.lua.org/manual/5.4/manual.html#6.3
const PackageLibraryName = "package"

// PreloadTable is the key in the registry for the table of preloaded modules.
const PreloadTable = "_PRELOAD"

// OpenPackage loads the standard package library.
// Unlike the reference implementation,
// this package library does not search the filesystem for modules:
// modules must be registered ahead of time in package.preload
// or already present in package.loaded.
// This function is intended to be used as an argument to [Require].
func OpenPackage(l *State) (int, error) {
	err := NewLib(l, map[string]Function{})
	if err != nil {
		return 0, err
	}

	if _, err := Subtable(l, RegistryIndex, LoadedTable); err != nil {
		return 0, err
	}
	l.RawSetField(-2, "loaded")

	if _, err := Subtable(l, RegistryIndex, PreloadTable); err != nil {
		return 0, err
	}
	l.RawSetField(-2, "preload")

	l.PushString("")
	l.RawSetField(-2, "path")
	l.PushString("")
	l.RawSetField(-2, "cpath")
	l.PushString(";")
	l.RawSetField(-2, "config")
	l.CreateTable(0, 0)
	l.RawSetField(-2, "searchers")

	// "require" is a global function, not a field of the package table.
	l.PushClosure(0, packageRequire)
	if err := l.SetGlobal("require", 0); err != nil {
		return 0, err
	}

	return 1, nil
}

func packageRequire(l *State) (int, error) {
	name, err := CheckString(l, 1)
	if err != nil {
		return 0, err
	}

	if _, err := Subtable(l, RegistryIndex, LoadedTable); err != nil {
		return 0, err
	}
	loadedIdx := l.Top()
	if _, err := l.Field(loadedIdx, name, 0); err != nil {
		return 0, err
	}
	if l.ToBoolean(-1) {
		return 1, nil
	}
	l.Pop(1) // remove loaded[name]

	if _, err := Subtable(l, RegistryIndex, PreloadTable); err != nil {
		return 0, err
	}
	preloadIdx := l.Top()
	if _, err := l.Field(preloadIdx, name, 0); err != nil {
		return 0, err
	}
	if l.IsNil(-1) {
		return 0, fmt.Errorf("module %q not found (no field package.preload['%s'])", name, name)
	}
	l.PushString(name)
	if err := l.Call(1, 1, 0); err != nil {
		return 0, err
	}
	if l.IsNil(-1) {
		l.Pop(1)
		l.PushBoolean(true)
	}
	l.PushValue(-1) // copy of result to return
	if err := l.SetField(loadedIdx, name, 0); err != nil {
		return 0, err
	}
	return 1, nil
}
