// Package ticker wraps time.Ticker with a countdown restart, used when
// a poll cycle runs ahead of schedule and the next one should wait a
// full interval again.
package ticker

import (
	"time"
)

type Ticker struct {
	ticker   *time.Ticker
	interval time.Duration
	C        <-chan time.Time
}

func New(interval time.Duration) *Ticker {
	t := &Ticker{
		ticker:   time.NewTicker(interval),
		interval: interval,
	}
	t.C = t.ticker.C
	return t
}

// Restart begins a fresh countdown of the full interval.
func (t *Ticker) Restart() {
	t.ticker.Reset(t.interval)
}

func (t *Ticker) Stop() {
	t.ticker.Stop()
}
