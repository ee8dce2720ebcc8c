// Package sftp implements one-shot file transfers over an authenticated
// SSH connection.
package sftp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"
)

// Client transfers files over an existing SSH connection. Sources may be
// glob patterns; matches upload or download concurrently.
type Client struct {
	sftp        *sftp.Client
	logger      *slog.Logger
	concurrency int
}

// Options configures a Client.
type Options struct {
	Logger      *slog.Logger
	Concurrency int // parallel transfers per glob, default 4
}

// New opens an SFTP subsystem on conn.
func New(conn *ssh.Client, opts Options) (*Client, error) {
	client, err := sftp.NewClient(conn)
	if err != nil {
		return nil, fmt.Errorf("open sftp subsystem: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Client{sftp: client, logger: logger, concurrency: opts.Concurrency}, nil
}

// Close closes the SFTP subsystem. The SSH connection stays open.
func (c *Client) Close() error {
	return c.sftp.Close()
}

// Put uploads local files matching pattern into remote directory destDir
// (or to destDir itself for a single non-glob source). Returns the number
// of files transferred.
func (c *Client) Put(ctx context.Context, pattern, destDir string) (int, error) {
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return 0, fmt.Errorf("bad source pattern %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		// Not a pattern, or nothing matched: try it as a literal path so
		// the error names the file.
		matches = []string{pattern}
	}

	single := len(matches) == 1 && !isRemoteDir(c.sftp, destDir)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, local := range matches {
		g.Go(func() error {
			remote := destDir
			if !single {
				remote = path.Join(destDir, filepath.Base(local))
			}
			return c.putOne(ctx, local, remote)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(matches), nil
}

// Get downloads remote files matching pattern into local directory destDir
// (or to destDir itself for a single match). Returns the number of files
// transferred.
func (c *Client) Get(ctx context.Context, pattern, destDir string) (int, error) {
	matches, err := c.sftp.Glob(pattern)
	if err != nil {
		return 0, fmt.Errorf("bad source pattern %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		matches = []string{pattern}
	}

	single := len(matches) == 1 && !isLocalDir(destDir)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, remote := range matches {
		g.Go(func() error {
			local := destDir
			if !single {
				local = filepath.Join(destDir, path.Base(remote))
			}
			return c.getOne(ctx, remote, local)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(matches), nil
}

func (c *Client) putOne(ctx context.Context, local, remote string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("open %s: %w", local, err)
	}
	defer src.Close()

	dst, err := c.sftp.Create(remote)
	if err != nil {
		return fmt.Errorf("create remote %s: %w", remote, err)
	}
	defer dst.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		return fmt.Errorf("upload %s: %w", local, err)
	}

	if info, err := src.Stat(); err == nil {
		// Best-effort mode preservation; servers may refuse.
		_ = c.sftp.Chmod(remote, info.Mode().Perm())
	}

	c.logger.Info("uploaded", "local", local, "remote", remote, "bytes", n)
	return nil
}

func (c *Client) getOne(ctx context.Context, remote, local string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := c.sftp.Open(remote)
	if err != nil {
		return fmt.Errorf("open remote %s: %w", remote, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(local, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create %s: %w", local, err)
	}
	defer dst.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		return fmt.Errorf("download %s: %w", remote, err)
	}

	c.logger.Info("downloaded", "remote", remote, "local", local, "bytes", n)
	return nil
}

func isRemoteDir(client *sftp.Client, p string) bool {
	info, err := client.Stat(p)
	return err == nil && info.IsDir()
}

func isLocalDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
