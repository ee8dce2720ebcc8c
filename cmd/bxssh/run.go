package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/bashx-org/bxssh/internal/adapters/realclock"
	"github.com/bashx-org/bxssh/internal/adapters/realprompt"
	"github.com/bashx-org/bxssh/internal/adapters/realterm"
	bxcli "github.com/bashx-org/bxssh/internal/cli"
	"github.com/bashx-org/bxssh/internal/config"
	"github.com/bashx-org/bxssh/internal/logging"
	"github.com/bashx-org/bxssh/internal/ports"
	"github.com/bashx-org/bxssh/internal/recording"
	"github.com/bashx-org/bxssh/internal/security"
	"github.com/bashx-org/bxssh/internal/session"
	"github.com/bashx-org/bxssh/internal/sftp"
	bxssh "github.com/bashx-org/bxssh/internal/ssh"
)

func connectAction(ctx context.Context, cmd *cli.Command) error {
	args := cmd.Args().Slice()
	if len(args) == 0 {
		return fmt.Errorf("%w: missing destination", bxcli.ErrUsage)
	}

	transferMode := cmd.String("put") != "" || cmd.String("get") != ""
	if cmd.String("put") != "" && cmd.String("get") != "" {
		return fmt.Errorf("%w: --put and --get are mutually exclusive", bxcli.ErrUsage)
	}
	maxArgs := 1
	if transferMode {
		maxArgs = 2 // destination plus transfer target path
	}
	if len(args) > maxArgs {
		return fmt.Errorf("%w: unexpected argument %q", bxcli.ErrUsage, args[maxArgs])
	}

	configPath := cmd.String("config")
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Validate()

	level := cmd.String("log-level")
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, levelVar := logging.Setup(os.Stderr, level, cfg.Logging.Sanitize)

	// Config edits during a long session retune verbosity live. The flag
	// wins over the file, so skip the watcher when --log-level was given.
	if cmd.String("log-level") == "" {
		if watcher, werr := config.NewWatcher(configPath, logger, func(c *config.Config) {
			levelVar.Set(logging.ParseLevel(c.Logging.Level))
		}); werr == nil {
			defer watcher.Close()
		}
	}

	ep, err := bxcli.ParseTarget(args[0])
	if err != nil {
		return err
	}
	ep, err = bxcli.Resolve(ep, cmd.String("user"), int(cmd.Int("port")), cmd.String("identity"), cfg)
	if err != nil {
		return err
	}

	forcePassword := cmd.Bool("password")
	if !forcePassword && ep.IdentityPath == "" {
		ep.IdentityPath = bxssh.DefaultIdentity(ep.Host)
	}

	hostKeys, err := bxssh.BuildHostKeyCallback("")
	if err != nil {
		return err
	}

	clock := realclock.New()
	transport, err := bxssh.New(bxssh.Options{
		Host:            ep.Host,
		Port:            ep.Port,
		User:            ep.User,
		HostKeyCallback: hostKeys,
		Timeout:         cfg.Defaults.ConnectTimeout,
		Clock:           clock,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	terminal := realterm.New()
	prompter := realprompt.New()

	var creds session.CredentialStore
	var passStore passphraseStore
	if cfg.Keyring.Enabled {
		ring := security.NewKeyring(logger)
		creds = ring
		passStore = ring
	}

	opts := session.Options{
		Clock:       clock,
		Logger:      logger,
		Credentials: creds,
		Remember:    cmd.Bool("remember") || cfg.Keyring.Remember,
		ErrOut:      os.Stderr,
		BufferSize:  cfg.Defaults.BufferSize,
	}

	var passphrase []byte
	if !forcePassword && ep.IdentityPath != "" {
		passphrase, err = resolvePassphrase(ep.IdentityPath, passStore, prompter, opts.Remember, logger)
		if err != nil {
			return err
		}
	}

	req := session.Request{
		User:          ep.User,
		Host:          ep.Host,
		Port:          ep.Port,
		IdentityPath:  ep.IdentityPath,
		Passphrase:    passphrase,
		Command:       cmd.String("command"),
		ForcePassword: forcePassword,
		Term:          terminalType(cfg),
	}

	if transferMode {
		if len(args) < 2 {
			return fmt.Errorf("%w: transfer needs a destination path argument", bxcli.ErrUsage)
		}
		return runTransfer(ctx, cmd, cfg, transport, terminal, prompter, opts, req, args[1], logger)
	}

	recordDir := cmd.String("record")
	if recordDir == "" && cfg.Recording.Enabled {
		recordDir = cfg.Recording.Path
	}
	if recordDir != "" && req.Command == "" {
		cols, rows, serr := terminal.Size()
		if serr != nil {
			cols, rows = 80, 24
		}
		rec, rerr := recording.New(recordDir, ep.String(), cols, rows, req.Term, clock)
		if rerr != nil {
			return rerr
		}
		defer rec.Close()
		opts.Tap = rec
		logger.Info("recording session", "path", rec.Path())
	}

	controller := session.NewController(transport, terminal, prompter, opts)
	status, err := controller.Run(ctx, req)
	if err != nil {
		return err
	}
	if status != 0 {
		return &exitStatusError{code: status}
	}
	return nil
}

// passphraseStore is the keyring slice needed for key passphrases; nil when
// the keyring is disabled.
type passphraseStore interface {
	LookupPassphrase(keyPath string) ([]byte, bool)
	StorePassphrase(keyPath string, passphrase []byte) error
}

// resolvePassphrase produces the passphrase for the identity file: nothing
// for an unencrypted key, a remembered keyring entry when it still unlocks
// the key, otherwise a prompt. With remember set, a passphrase that unlocked
// the key is stored for next time.
func resolvePassphrase(keyPath string, ring passphraseStore, prompter ports.Prompter, remember bool, logger *slog.Logger) ([]byte, error) {
	if !bxssh.NeedsPassphrase(keyPath) {
		return nil, nil
	}

	if ring != nil {
		if pass, ok := ring.LookupPassphrase(keyPath); ok {
			if bxssh.CheckPassphrase(keyPath, pass) {
				return pass, nil
			}
			logger.Warn("stored passphrase no longer unlocks key", "path", keyPath)
		}
	}

	entered, err := prompter.Password(fmt.Sprintf("Enter passphrase for %s", keyPath))
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	pass := []byte(entered)
	if !bxssh.CheckPassphrase(keyPath, pass) {
		return nil, fmt.Errorf("wrong passphrase for %s", keyPath)
	}

	if remember && ring != nil {
		if serr := ring.StorePassphrase(keyPath, pass); serr != nil {
			logger.Warn("could not store passphrase", "path", keyPath, "error", serr)
		}
	}
	return pass, nil
}

// runTransfer connects and authenticates like a session, then moves files
// over SFTP instead of opening a shell.
func runTransfer(ctx context.Context, cmd *cli.Command, cfg *config.Config, transport *bxssh.Transport, terminal *realterm.Terminal, prompter *realprompt.Prompt, opts session.Options, req session.Request, dest string, logger *slog.Logger) error {
	controller := session.NewController(transport, terminal, prompter, opts)
	if err := controller.Connect(ctx, req); err != nil {
		transport.Close()
		return err
	}
	defer transport.Close()

	client, err := sftp.New(transport.Client(), sftp.Options{
		Logger:      logger,
		Concurrency: cfg.Transfer.Concurrency,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	var n int
	if pattern := cmd.String("put"); pattern != "" {
		n, err = client.Put(ctx, pattern, dest)
	} else {
		n, err = client.Get(ctx, cmd.String("get"), dest)
	}
	if err != nil {
		return err
	}
	logger.Info("transfer complete", "files", n)
	return nil
}

func terminalType(cfg *config.Config) string {
	if t := os.Getenv("TERM"); t != "" {
		return t
	}
	if cfg.Defaults.Term != "" {
		return cfg.Defaults.Term
	}
	return "xterm-256color"
}
