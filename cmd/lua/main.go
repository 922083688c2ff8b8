// Copyright 2025 The zb Authors
// SPDX-License-Identifier: MIT

// Command lua runs Lua scripts and provides an interactive prompt.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
	"zombiezen.com/go/bass/sigterm"
	"zombiezen.com/go/log"

	"lukago.dev/lua"
	"lukago.dev/lua/internal/luacode"
)

// preloadList collects the names passed via repeated -l flags, in order.
// It satisfies [pflag.Value] so that cobra can register it as a flag
// that accumulates rather than overwrites.
type preloadList []string

func (p *preloadList) String() string {
	return strings.Join(*p, ",")
}

func (p *preloadList) Set(name string) error {
	*p = append(*p, name)
	return nil
}

func (p *preloadList) Type() string {
	return "name"
}

var _ pflag.Value = (*preloadList)(nil)

func main() {
	rootCommand := &cobra.Command{
		Use:                   "lua [options] [script [args]]",
		Short:                 "lua",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ArbitraryArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}

	opts := new(runOptions)
	rootCommand.Flags().StringVarP(&opts.expr, "execute", "e", "", "execute string `stat`")
	rootCommand.Flags().VarP(&opts.preload, "require", "l", "require library `name` before running the script")
	showDebug := rootCommand.Flags().Bool("debug", false, "show debugging output")
	rootCommand.RunE = func(cmd *cobra.Command, args []string) error {
		initLogging(*showDebug)
		opts.args = args
		return run(cmd.Context(), opts)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), sigterm.Signals()...)
	err := rootCommand.ExecuteContext(ctx)
	cancel()
	if err != nil {
		initLogging(*showDebug)
		log.Errorf(context.Background(), "%v", err)
		os.Exit(1)
	}
}

type runOptions struct {
	expr    string
	preload preloadList
	args    []string
}

func run(ctx context.Context, opts *runOptions) error {
	l := new(lua.State)
	defer l.Close()
	if err := lua.OpenLibraries(l); err != nil {
		return err
	}
	if err := pushArgTable(l, opts.args); err != nil {
		return err
	}
	for _, name := range opts.preload {
		if err := requireLibrary(l, name); err != nil {
			return err
		}
	}

	switch {
	case opts.expr != "":
		return doChunk(l, strings.NewReader(opts.expr), luacode.LiteralSource(opts.expr))
	case len(opts.args) > 0:
		fname := opts.args[0]
		f, err := os.Open(fname)
		if err != nil {
			return err
		}
		defer f.Close()
		return doChunk(l, f, luacode.FilenameSource(fname))
	case term.IsTerminal(int(os.Stdin.Fd())):
		return repl(l)
	default:
		return doChunk(l, os.Stdin, luacode.AbstractSource("stdin"))
	}
}

// pushArgTable builds the "arg" global table from the command-line
// arguments, following the reference implementation's convention of
// storing the script name at arg[0] and any trailing arguments at
// arg[1], arg[2], and so on.
func pushArgTable(l *lua.State, args []string) error {
	l.CreateTable(max(len(args)-1, 0), 1)
	for i, a := range args {
		l.PushString(a)
		l.RawSetIndex(-2, int64(i))
	}
	return l.SetGlobal("arg", 0)
}

// requireLibrary calls the global "require" function, the same as
// running `name = require("name")` at the top of the script, and
// discards its result. This mirrors the standalone interpreter's
// "-l name" option.
func requireLibrary(l *lua.State, name string) error {
	if _, err := l.Global("require", 0); err != nil {
		return err
	}
	l.PushString(name)
	if err := l.Call(1, 1, 0); err != nil {
		return err
	}
	if err := l.SetGlobal(name, 0); err != nil {
		return err
	}
	return nil
}

func doChunk(l *lua.State, r io.Reader, source luacode.Source) error {
	if err := l.Load(r, source, "bt"); err != nil {
		msg, _ := l.ToString(-1)
		return fmt.Errorf("%s", msg)
	}
	if err := l.Call(0, 0, 0); err != nil {
		return err
	}
	return nil
}

func repl(l *lua.State) error {
	fmt.Printf("%s\n", lua.Version)
	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !in.Scan() {
			fmt.Println()
			return in.Err()
		}
		line := in.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := evalREPLLine(l, line); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

// evalREPLLine evaluates a single line of interactive input.
// It first tries to compile the line as an expression whose results
// are printed, falling back to a plain statement if that fails,
// mirroring the standalone interpreter's behavior.
func evalREPLLine(l *lua.State, line string) error {
	exprSource := "return " + line
	err := l.Load(strings.NewReader(exprSource), luacode.LiteralSource(exprSource), "t")
	if err != nil {
		l.Pop(1)
		err = l.Load(strings.NewReader(line), luacode.LiteralSource(line), "t")
		if err != nil {
			msg, _ := l.ToString(-1)
			l.Pop(1)
			return fmt.Errorf("%s", msg)
		}
	}
	if err := l.Call(0, lua.MultipleReturns, 0); err != nil {
		return err
	}
	n := l.Top()
	for i := 1; i <= n; i++ {
		s, _ := lua.ToString(l, i)
		fmt.Println(s)
	}
	l.SetTop(0)
	return nil
}

var initLogOnce sync.Once

func initLogging(showDebug bool) {
	initLogOnce.Do(func() {
		minLogLevel := log.Info
		if showDebug {
			minLogLevel = log.Debug
		}
		log.SetDefault(&log.LevelFilter{
			Min:    minLogLevel,
			Output: log.New(os.Stderr, "lua: ", log.StdFlags, nil),
		})
	})
}
