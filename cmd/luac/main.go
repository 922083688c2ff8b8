// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"os"

	"lukago.dev/lua/internal/luac"
)

func main() {
	rootCommand := luac.New()
	if err := rootCommand.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "luac:", err)
		os.Exit(1)
	}
}
