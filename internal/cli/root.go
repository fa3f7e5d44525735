package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"moro/internal/camera"
	"moro/internal/config"
)

// Version is overridden at build time with -ldflags "-X moro/internal/cli.Version=...".
var Version = "dev"

func Root() *Command {
	return &Command{
		Name:  "moro",
		Short: "Personal toolbox of small commands.",
		Subcommands: []*Command{
			cameraCommand(),
			{
				Name:  "config",
				Short: "Print the resolved configuration as YAML.",
				Run:   runConfig,
			},
			exampleCommand(),
			{
				Name:  "version",
				Short: "Print the moro version.",
				Run:   runVersion,
			},
		},
	}
}

// Main runs the command line and returns the process exit code.
func Main(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	logger, closer, err := cfg.Logging.NewLogger(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer closer.Close()
	slog.SetDefault(logger)

	env := &Env{Stdout: stdout, Stderr: stderr, Config: cfg, Log: logger}
	return Run(ctx, env, args)
}

// Run executes args against the command tree with an already prepared env.
func Run(ctx context.Context, env *Env, args []string) int {
	if len(args) > 0 && args[0] == "--version" {
		return exitCode(env, runVersion(ctx, env, nil))
	}
	return exitCode(env, Root().Execute(ctx, env, "moro", args))
}

func exitCode(env *Env, err error) int {
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, ErrUsage):
		fmt.Fprintf(env.Stderr, "Error: %v\n", err)
		return 2
	case errors.Is(err, camera.ErrCamera):
		env.Log.Error("camera error", "error", err)
		fmt.Fprintf(env.Stderr, "Error: %v\n", err)
		return 1
	default:
		env.Log.Error("unexpected error", "error", err)
		fmt.Fprintf(env.Stderr, "Unexpected error: %v\n", err)
		return 1
	}
}

func runConfig(_ context.Context, env *Env, args []string) error {
	if err := parseFlags(newFlagSet("config", env), args); err != nil {
		return err
	}
	out, err := env.Config.YAML()
	if err != nil {
		return err
	}
	_, err = env.Stdout.Write(out)
	return err
}

func runVersion(_ context.Context, env *Env, _ []string) error {
	_, err := fmt.Fprintf(env.Stdout, "moro, version %s\n", Version)
	return err
}

func exampleCommand() *Command {
	return &Command{
		Name:  "example",
		Short: "Example command group.",
		Subcommands: []*Command{
			{
				Name:  "echo",
				Short: "Echo command.",
				Run: func(_ context.Context, env *Env, args []string) error {
					if err := parseFlags(newFlagSet("example echo", env), args); err != nil {
						return err
					}
					_, err := fmt.Fprintln(env.Stdout, "This is an example command.")
					return err
				},
			},
		},
	}
}
