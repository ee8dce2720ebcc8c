// Package realclock provides the production implementation of ports.Clock.
package realclock

import (
	"time"

	"github.com/bashx-org/bxssh/internal/ports"
)

// Clock implements ports.Clock using the time package.
type Clock struct{}

// New creates a real clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	return time.Now()
}

// After returns a channel that receives the current time after duration d.
func (c *Clock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// NewTicker returns a real ticker.
func (c *Clock) NewTicker(d time.Duration) ports.Ticker {
	return &ticker{t: time.NewTicker(d)}
}

type ticker struct {
	t *time.Ticker
}

func (t *ticker) C() <-chan time.Time {
	return t.t.C
}

func (t *ticker) Stop() {
	t.t.Stop()
}
