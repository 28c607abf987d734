package imap

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often a transient failure is retried. The wait
// before retry n is Delay + (n-1)*Increment.
type RetryPolicy struct {
	Attempts  int
	Delay     time.Duration
	Increment time.Duration
}

// linearBackOff implements backoff.BackOff with a fixed step.
type linearBackOff struct {
	delay     time.Duration
	increment time.Duration
	n         int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	d := b.delay + time.Duration(b.n)*b.increment
	b.n++
	return d
}

func (b *linearBackOff) Reset() {
	b.n = 0
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var b backoff.BackOff = &linearBackOff{delay: p.Delay, increment: p.Increment}
	b = backoff.WithMaxRetries(b, uint64(attempts-1))
	return backoff.WithContext(b, ctx)
}
