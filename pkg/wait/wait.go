// Package wait polls a condition at a fixed interval for a bounded number of
// attempts.
package wait

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/giantswarm/aliyun-image-operator/pkg/imgerr"
)

// Config bounds a wait. The condition is checked once immediately and then
// once per Interval until Timeout/Interval further attempts have been made.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// ConditionFunc reports whether the awaited state was reached. A non-nil
// error stops the wait and is returned as is.
type ConditionFunc func(ctx context.Context) (bool, error)

var errPending = errors.New("condition not met")

// Attempts returns how many times the condition is checked at most.
func (c Config) Attempts() uint64 {
	if c.Interval <= 0 {
		return 1
	}
	return uint64(c.Timeout/c.Interval) + 1
}

// Until blocks until cond returns true, returns an error, the attempts are
// exhausted (Timeout kind) or ctx is done.
func Until(ctx context.Context, c Config, what string, cond ConditionFunc) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.Interval), c.Attempts()-1),
		ctx,
	)

	operation := func() error {
		done, err := cond(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !done {
			return errPending
		}
		return nil
	}

	err := backoff.Retry(operation, b)
	if errors.Is(err, errPending) {
		return imgerr.New(imgerr.Timeout, "timed out after %s waiting for %s", c.Timeout, what)
	}
	return err
}
