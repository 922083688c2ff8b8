// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package lua

// userdataValue is a [value] that wraps an arbitrary Go value
// that is opaque to Lua code.
// Userdata can have an associated metatable
// that provides metamethods and a "__gc" finalizer
// in the same way a table can.
type userdataValue struct {
	id   uint64
	data any
	meta *table
}

func newUserdata(data any) *userdataValue {
	return &userdataValue{id: nextID(), data: data}
}

func (u *userdataValue) valueType() Type { return TypeUserdata }

// lightUserdataValue is a [value] wrapping an arbitrary Go value
// that has no identity of its own and cannot carry a metatable.
// Two light userdata values are equal if their underlying data compares equal.
type lightUserdataValue struct {
	data any
}

func (u lightUserdataValue) valueType() Type { return TypeLightUserdata }
