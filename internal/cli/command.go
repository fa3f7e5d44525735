// Package cli implements the moro command tree: nested groups of commands
// that can be abbreviated to any unique prefix.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"moro/internal/config"
)

var (
	ErrUnknownCommand   = errors.New("unknown command")
	ErrAmbiguousCommand = errors.New("ambiguous command")
	ErrUsage            = errors.New("usage error")
)

type usageError struct {
	kind error
	msg  string
}

func (e *usageError) Error() string { return e.msg }

func (e *usageError) Unwrap() []error { return []error{e.kind, ErrUsage} }

// Env is what a command sees of the process.
type Env struct {
	Stdout io.Writer
	Stderr io.Writer
	Config config.AppConfig
	Log    *slog.Logger
}

type Command struct {
	Name        string
	Short       string
	Run         func(ctx context.Context, env *Env, args []string) error
	Subcommands []*Command
}

// Lookup finds a direct subcommand by exact name or unique prefix.
func (c *Command) Lookup(name string) (*Command, error) {
	var matches []*Command
	for _, sub := range c.Subcommands {
		if sub.Name == name {
			return sub, nil
		}
		if strings.HasPrefix(sub.Name, name) {
			matches = append(matches, sub)
		}
	}
	switch len(matches) {
	case 0:
		return nil, &usageError{
			kind: ErrUnknownCommand,
			msg:  fmt.Sprintf("Command '%s' not found. Use 'moro --help' for a list of commands.", name),
		}
	case 1:
		return matches[0], nil
	}
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m.Name
	}
	sort.Strings(names)
	return nil, &usageError{
		kind: ErrAmbiguousCommand,
		msg:  "Too many matches: " + strings.Join(names, ", "),
	}
}

// Execute walks down the tree consuming one argument per group and runs the
// leaf with the remaining arguments.
func (c *Command) Execute(ctx context.Context, env *Env, path string, args []string) error {
	if c.Run != nil && len(c.Subcommands) == 0 {
		return c.Run(ctx, env, args)
	}
	if len(args) == 0 || isHelp(args[0]) {
		c.usage(env.Stdout, path)
		return nil
	}
	sub, err := c.Lookup(args[0])
	if err != nil {
		return err
	}
	return sub.Execute(ctx, env, path+" "+sub.Name, args[1:])
}

func (c *Command) usage(w io.Writer, path string) {
	fmt.Fprintf(w, "Usage: %s COMMAND [ARGS]...\n", path)
	if c.Short != "" {
		fmt.Fprintf(w, "\n  %s\n", c.Short)
	}
	fmt.Fprintln(w, "\nCommands:")
	width := 0
	for _, sub := range c.Subcommands {
		width = max(width, len(sub.Name))
	}
	for _, sub := range c.Subcommands {
		fmt.Fprintf(w, "  %-*s  %s\n", width, sub.Name, sub.Short)
	}
}

func isHelp(arg string) bool {
	return arg == "--help" || arg == "-help" || arg == "-h"
}

// newFlagSet returns a flag set whose parse errors are reported by the
// caller instead of exiting the process.
func newFlagSet(name string, env *Env) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(env.Stderr)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return &usageError{kind: ErrUsage, msg: err.Error()}
	}
	if fs.NArg() > 0 {
		return &usageError{kind: ErrUsage, msg: fmt.Sprintf("unexpected argument %q", fs.Arg(0))}
	}
	return nil
}
