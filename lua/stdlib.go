// Copyright 2023 Roxy Light
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the “Software”), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED “AS IS”, WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
//
// SPDX-License-Identifier: MIT

package lua

// OpenLibraries opens all standard Lua libraries into the given state
// with their default settings.
func OpenLibraries(l *State) error {
	libs := []struct {
		name  string
		openf Function
	}{
		{GName, NewOpenBase(nil)},
		{CoroutineLibraryName, NewOpenCoroutine()},
		{TableLibraryName, NewOpenTable()},
		{IOLibraryName, NewIOLibrary().OpenLibrary},
		{OSLibraryName, NewOSLibrary().OpenLibrary},
		{StringLibraryName, NewOpenString()},
		{UTF8LibraryName, NewOpenUTF8()},
		{MathLibraryName, NewOpenMath(nil)},
		{DebugLibraryName, NewOpenDebug()},
		{PackageLibraryName, OpenPackage},
	}

	for _, lib := range libs {
		if err := Require(l, lib.name, true, lib.openf); err != nil {
			return err
		}
		l.Pop(1)
	}

	return nil
}
