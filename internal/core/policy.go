package core

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Decision is what a ReconnectPolicy answers after a disconnect.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// ReconnectPolicy decides whether a disconnected connection is
// re-established. attempt is 1-based and counts failures since the last
// healthy stream. A stream that connects and ends before delivering
// anything is a failure like any other.
type ReconnectPolicy interface {
	OnDisconnect(err error, attempt int) Decision
}

// Backoff is an exponential ReconnectPolicy capped at Max. The delay for
// attempt n is min(Max, Base*2^(n-1)). With Jitter j > 0 a uniform random
// extra in [0, j*delay] is added and the result is capped at Max again,
// so callers must tolerate the range [delay, min(Max, delay*(1+j))].
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	// MaxAttempts bounds consecutive failed attempts. Zero means unlimited.
	MaxAttempts int
	// Jitter is a fraction in [0, 1].
	Jitter float64

	// random returns a value in [0, 1). Nil uses math/rand/v2.
	random func() float64
}

var _ ReconnectPolicy = (*Backoff)(nil)

// NewBackoff returns a Backoff with sane lower bounds applied.
func NewBackoff(base, maxDelay time.Duration, maxAttempts int, jitter float64) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if maxDelay < base {
		maxDelay = base
	}
	return &Backoff{
		Base:        base,
		Max:         maxDelay,
		MaxAttempts: max(maxAttempts, 0),
		Jitter:      min(max(jitter, 0), 1),
	}
}

// OnDisconnect implements ReconnectPolicy. Clean disconnects, shutdown
// and permanent transport errors never retry.
func (b *Backoff) OnDisconnect(err error, attempt int) Decision {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrConnectionClosed) {
		return Decision{}
	}
	if IsPermanent(err) {
		return Decision{}
	}
	if attempt < 1 {
		attempt = 1
	}
	if b.MaxAttempts > 0 && attempt > b.MaxAttempts {
		return Decision{}
	}
	return Decision{Retry: true, Delay: b.Delay(attempt)}
}

// Delay returns the delay for attempt, jitter included. It is
// non-decreasing in attempt when Jitter is zero.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	if b.Jitter > 0 {
		d += time.Duration(b.Jitter * b.rand() * float64(d))
		if d > b.Max {
			d = b.Max
		}
	}
	return d
}

func (b *Backoff) rand() float64 {
	if b.random != nil {
		return b.random()
	}
	return rand.Float64()
}

// sleepCtx blocks for d or until ctx is done.
// Returns true if the sleep completed (context still alive).
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
