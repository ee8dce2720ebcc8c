package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/muesli/cancelreader"

	"github.com/bashx-org/bxssh/internal/adapters/realclock"
	"github.com/bashx-org/bxssh/internal/ports"
	"github.com/bashx-org/bxssh/internal/term"
)

// DefaultBufferSize is the per-direction staging buffer size. Tunable;
// large enough to drain a full-screen redraw in a few reads, small enough
// that a slow local terminal throttles remote reads instead of growing
// memory.
const DefaultBufferSize = 8 * 1024

// shutdownGrace bounds how long Run waits for a blocked local read after
// the remote side is done. Local readers that cannot be canceled (anything
// but a real file descriptor) are abandoned after this window.
const shutdownGrace = 250 * time.Millisecond

// Pump runs the two byte-copy loops of an interactive session: local
// keystrokes to the remote channel unmodified, remote output through the
// escape-sequence classifier to the local display. Either loop finishing
// shuts down the other; backpressure comes from blocking writes on the
// bounded buffers.
type Pump struct {
	localIn    io.Reader
	localOut   io.Writer
	remote     ports.Channel
	classifier *term.Classifier
	tap        io.Writer // optional copy of displayed output (recording)
	logger     *slog.Logger
	clock      ports.Clock
	bufSize    int
}

// PumpOptions tunes optional pump behavior.
type PumpOptions struct {
	BufferSize int         // per-direction buffer, DefaultBufferSize if zero
	Tap        io.Writer   // receives a copy of everything shown locally
	Clock      ports.Clock // defaults to the real clock
}

// NewPump wires a pump between the local terminal streams and the remote
// channel. The classifier is applied on the remote-to-local path only.
func NewPump(localIn io.Reader, localOut io.Writer, remote ports.Channel, classifier *term.Classifier, logger *slog.Logger, opts PumpOptions) *Pump {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	clock := opts.Clock
	if clock == nil {
		clock = realclock.New()
	}
	return &Pump{
		localIn:    localIn,
		localOut:   localOut,
		remote:     remote,
		classifier: classifier,
		tap:        opts.Tap,
		logger:     logger,
		clock:      clock,
		bufSize:    opts.BufferSize,
	}
}

// Run blocks until the remote channel reaches end-of-stream or ctx is
// canceled, whichever happens first. On cancellation the remote channel is
// closed to unblock the loops; the local input reader is canceled where the
// platform supports it.
func (p *Pump) Run(ctx context.Context) error {
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	localIn := p.localIn
	if cr, err := cancelreader.NewReader(p.localIn); err == nil {
		localIn = cr
		go func() {
			<-ctx.Done()
			cr.Cancel()
		}()
	} else {
		p.logger.Debug("local input reader is not cancelable", "error", err)
	}

	// Only an external interrupt force-closes the remote channel (to
	// unblock its reads). On a normal end-of-stream the channel is left
	// open so the caller can still collect the remote exit status.
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-parent.Done():
			p.remote.Close()
		case <-finished:
		}
	}()

	uplinkErr := make(chan error, 1)
	downlinkErr := make(chan error, 1)
	go func() {
		uplinkErr <- p.uplink(ctx, localIn)
		cancel()
	}()
	go func() {
		downlinkErr <- p.downlink(ctx)
		cancel()
	}()

	// Remote end-of-stream is authoritative; always collect the downlink.
	err := <-downlinkErr

	// The uplink gets a bounded window to observe cancellation. A blocked
	// local read on a non-cancelable reader is abandoned rather than held
	// open past session teardown.
	select {
	case uerr := <-uplinkErr:
		if err == nil {
			err = uerr
		}
	case <-p.clock.After(shutdownGrace):
		p.logger.Debug("abandoning blocked local input reader")
	}
	return err
}

// uplink copies local keystrokes to the remote channel, unfiltered.
func (p *Pump) uplink(ctx context.Context, in io.Reader) error {
	buf := make([]byte, p.bufSize)
	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := in.Read(buf)
		if n > 0 {
			if _, werr := p.remote.Write(buf[:n]); werr != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: remote write: %v", ErrConnectionLost, werr)
			}
		}
		if err != nil {
			if err == io.EOF || errors.Is(err, cancelreader.ErrCanceled) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("local read: %w", err)
		}
	}
}

// downlink copies remote output through the classifier to the local
// display, dropping suppressed spans.
func (p *Pump) downlink(ctx context.Context) error {
	buf := make([]byte, p.bufSize)
	for {
		n, err := p.remote.Read(buf)
		if n > 0 {
			if werr := p.emit(p.classifier.Scan(buf[:n])); werr != nil {
				return fmt.Errorf("local write: %w", werr)
			}
		}
		if err != nil {
			// Whatever is buffered mid-sequence is flushed verbatim so a
			// connection closed mid-escape loses no bytes.
			if werr := p.emit(p.classifier.Flush()); werr != nil {
				return fmt.Errorf("local write: %w", werr)
			}
			if err == io.EOF || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: remote read: %v", ErrConnectionLost, err)
		}
	}
}

// emit writes non-suppressed segments to the local display and the tap.
func (p *Pump) emit(segs []term.Segment) error {
	for _, s := range segs {
		if s.Suppressed {
			p.logger.Debug("suppressed remote output span",
				"kind", s.Kind.String(), "len", len(s.Data))
			continue
		}
		if _, err := p.localOut.Write(s.Data); err != nil {
			return err
		}
		if p.tap != nil {
			// Recording failures must not kill the session.
			if _, err := p.tap.Write(s.Data); err != nil {
				p.logger.Warn("session recording write failed", "error", err)
				p.tap = nil
			}
		}
	}
	return nil
}
