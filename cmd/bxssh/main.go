// Command bxssh is an interactive SSH client that keeps the local
// terminal clean: remote escape-sequence noise (terminal color queries,
// mouse tracking toggles, alternate-screen switches) is filtered out of
// the display stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	bxcli "github.com/bashx-org/bxssh/internal/cli"
	"github.com/bashx-org/bxssh/internal/session"
)

const (
	exitOK    = 0
	exitError = 1 // connection, authentication, or session failure
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	app := &cli.Command{
		Name:      "bxssh",
		Usage:     "connect to a remote shell with escape-sequence filtering",
		UsageText: "bxssh [options] [user@]host[:port]\n   bxssh keys <subcommand>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "user",
				Aliases: []string{"u"},
				Usage:   "remote username",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "remote port",
			},
			&cli.StringFlag{
				Name:    "identity",
				Aliases: []string{"i"},
				Usage:   "private key `file`",
			},
			&cli.StringFlag{
				Name:    "command",
				Aliases: []string{"c"},
				Usage:   "run a single `command` instead of an interactive shell",
			},
			&cli.BoolFlag{
				Name:  "password",
				Usage: "force password authentication",
			},
			&cli.StringFlag{
				Name:  "put",
				Usage: "upload files matching `glob` to the remote path argument, then exit",
			},
			&cli.StringFlag{
				Name:  "get",
				Usage: "download remote files matching `glob` to the local path argument, then exit",
			},
			&cli.StringFlag{
				Name:  "record",
				Usage: "record the session as asciicast into `dir`",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "config `file` (default: $XDG_CONFIG_HOME/bxssh/config.yaml)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "diagnostic verbosity: debug, info, warn, error",
			},
			&cli.BoolFlag{
				Name:  "remember",
				Usage: "store the password in the OS keyring after it authenticates",
			},
		},
		Commands: []*cli.Command{
			keysCommand(),
		},
		Action: connectAction,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := app.Run(ctx, args)
	if err == nil {
		return exitOK
	}

	var exit *exitStatusError
	if errors.As(err, &exit) {
		// Remote command status; nothing to print, the remote already did.
		return exit.code
	}

	fmt.Fprintf(os.Stderr, "bxssh: %v\n", err)
	if errors.Is(err, bxcli.ErrUsage) {
		return exitUsage
	}
	if errors.Is(err, session.ErrAuthenticationExhausted) ||
		errors.Is(err, session.ErrConnectionLost) {
		return exitError
	}
	return exitError
}

// exitStatusError carries a remote exit status through the cli action
// return without producing a diagnostic of its own.
type exitStatusError struct {
	code int
}

func (e *exitStatusError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}
