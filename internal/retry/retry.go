// Package retry wraps remote calls with exponential backoff.
package retry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/rmontemor-qase/qase-workspace-migration/internal/metrics"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

// StatusError is implemented by errors that carry an HTTP response.
type StatusError interface {
	error
	HTTPStatus() int
	ResponseBody() string
}

// Policy controls how many attempts are made and how long to wait between them.
// Attempt n (0-based) is followed by a delay of BaseDelay * 2^n.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Log        logrus.FieldLogger
}

// DefaultPolicy returns 3 attempts with a 1s base delay.
func DefaultPolicy(log logrus.FieldLogger) Policy {
	return Policy{MaxRetries: DefaultMaxRetries, BaseDelay: DefaultBaseDelay, Log: log}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	maxRetries := p.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = base << 10
	bo.MaxElapsedTime = 0
	bo.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxRetries-1)), ctx)
}

func (p Policy) logger() logrus.FieldLogger {
	if p.Log == nil {
		return logrus.StandardLogger()
	}
	return p.Log
}

// Retryable reports whether err is worth another attempt: HTTP 429, HTTP 5xx
// and transport errors are; other HTTP errors and cancellation are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se StatusError
	if errors.As(err, &se) {
		code := se.HTTPStatus()
		return code == 429 || code >= 500
	}
	return true
}

// missingAttachment reports a 404 for an attachment, which callers treat as "not there".
func missingAttachment(op string, err error) bool {
	var se StatusError
	if !errors.As(err, &se) || se.HTTPStatus() != 404 {
		return false
	}
	return strings.Contains(strings.ToLower(se.ResponseBody()), "attachment") ||
		strings.Contains(strings.ToLower(op), "attachment")
}

// Call runs fn until it succeeds, fails terminally or the attempts run out.
// A 404 for an attachment returns the zero value and a nil error.
func Call[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		result  T
		attempt int
	)
	log := p.logger().WithField("op", op)
	maxRetries := p.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	operation := func() error {
		attempt++
		v, err := fn(ctx)
		if err == nil {
			result = v
			return nil
		}
		if missingAttachment(op, err) {
			var zero T
			result = zero
			return nil
		}
		if !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		metrics.RetriesTotal.WithLabelValues(op).Inc()
		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"max":     maxRetries,
			"wait":    wait.String(),
		}).Warnf("%s failed, retrying: %v", op, err)
	}

	err := backoff.RetryNotify(operation, p.backOff(ctx), notify)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return result, err
		}
		var se StatusError
		if errors.As(err, &se) {
			log.WithField("status", se.HTTPStatus()).Errorf("%s failed: %s", op, se.ResponseBody())
		} else {
			log.Errorf("%s failed after %d attempt(s): %v", op, attempt, err)
		}
		var zero T
		return zero, err
	}
	return result, nil
}

// Do is Call for operations without a result.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
