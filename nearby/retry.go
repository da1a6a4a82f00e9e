package nearby

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// IsTransient reports whether err is worth retrying: timeouts, connection
// failures, and errors that say so via a Transient() bool method.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var t interface{ Transient() bool }
	if errors.As(err, &t) {
		return t.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// RetryPolicy bounds how often a transient failure is retried.
type RetryPolicy struct {
	MaxRetries     uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Retry runs op and retries transient failures with exponential backoff and
// jitter, up to p.MaxRetries extra attempts. Other errors return at once.
func Retry[V any](ctx context.Context, p RetryPolicy, name string, op func(ctx context.Context) (V, error)) (V, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = p.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.3

	attempt := uint(0)
	return backoff.Retry(ctx, func() (V, error) {
		attempt++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		if attempt <= p.MaxRetries {
			log.Printf("nearby: %s attempt %d failed, retrying: %v", name, attempt, err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(p.MaxRetries+1))
}
