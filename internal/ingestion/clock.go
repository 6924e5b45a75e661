package ingestion

import (
	"errors"
	"fmt"
	"time"
)

// ErrClockSkew means a signed request timestamp is too far from the time the
// ledger received it. Stale signatures cannot be replayed outside the window.
var ErrClockSkew = errors.New("request timestamp outside accepted window")

// DefaultMaxSkew bounds how far a signed timestamp may drift from receive time.
const DefaultMaxSkew = 30 * time.Second

// IngressClock assigns ledger time to commands as they arrive. The ledger
// never takes time from the requester: the signed timestamp only has to fall
// within MaxSkew of the receive time, and the receive time is what the core
// sees.
type IngressClock struct {
	now     func() time.Time
	maxSkew time.Duration
}

func NewIngressClock(maxSkew time.Duration) *IngressClock {
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	return &IngressClock{now: time.Now, maxSkew: maxSkew}
}

// WithNow replaces the wall clock. Tests drive time through it.
func (c *IngressClock) WithNow(now func() time.Time) *IngressClock {
	c.now = now
	return c
}

// Now is the current receive time. A nil clock reads the wall clock.
func (c *IngressClock) Now() time.Time {
	if c == nil || c.now == nil {
		return time.Now()
	}
	return c.now()
}

func (c *IngressClock) MaxSkew() time.Duration {
	if c == nil {
		return DefaultMaxSkew
	}
	return c.maxSkew
}

// Admit checks a signed timestamp against the receive time and returns the
// ledger time for the command, in unix seconds.
func (c *IngressClock) Admit(signed int64, received time.Time) (int64, error) {
	at := received.Unix()
	window := int64(c.MaxSkew() / time.Second)
	if signed > at+window || signed < at-window {
		return 0, fmt.Errorf("%w: signed %d, received %d, max skew %s", ErrClockSkew, signed, at, c.MaxSkew())
	}
	return at, nil
}
