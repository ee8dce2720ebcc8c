package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/bashx-org/bxssh/internal/keys"
)

func keysCommand() *cli.Command {
	return &cli.Command{
		Name:  "keys",
		Usage: "manage client key pairs",
		Commands: []*cli.Command{
			{
				Name:      "generate",
				Usage:     "generate a new ed25519 key pair",
				UsageText: "bxssh keys generate [name]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "passphrase",
						Usage: "encrypt the private key with a passphrase",
					},
					&cli.StringFlag{
						Name:  "dir",
						Usage: "key directory (default: ~/.bxssh/keys)",
					},
				},
				Action: keysGenerate,
			},
			{
				Name:  "list",
				Usage: "list managed key pairs",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "dir",
						Usage: "key directory (default: ~/.bxssh/keys)",
					},
				},
				Action: keysList,
			},
		},
	}
}

func keysGenerate(ctx context.Context, cmd *cli.Command) error {
	mgr, err := keys.NewManager(cmd.String("dir"))
	if err != nil {
		return err
	}

	name := cmd.Args().First()
	var passphrase []byte
	if p := cmd.String("passphrase"); p != "" {
		passphrase = []byte(p)
	}

	pair, err := mgr.Generate(name, passphrase)
	if err != nil {
		return err
	}

	if name == "" {
		name = keys.DefaultKeyName
	}
	fmt.Printf("generated %s\n", filepath.Join(mgr.Dir(), name))
	fmt.Printf("public key: %s\n", pair.AuthorizedKey())
	return nil
}

func keysList(ctx context.Context, cmd *cli.Command) error {
	mgr, err := keys.NewManager(cmd.String("dir"))
	if err != nil {
		return err
	}

	names, err := mgr.List()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Printf("no keys in %s\n", mgr.Dir())
		return nil
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}
