package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v4"

	"github.com/batchline/batchline/internal/config"
)

// transientCodes are API error codes eligible for bounded retry. Anything
// not listed here is treated as permanent.
var transientCodes = map[string]bool{
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"TooManyRequestsException":               true,
	"RequestLimitExceeded":                   true,
	"RequestThrottled":                       true,
	"SlowDown":                               true,
	"ServiceUnavailable":                     true,
	"ServiceUnavailableException":            true,
	"InternalError":                          true,
	"InternalFailure":                        true,
	"InternalServerException":                true,
	"InsufficientInstanceCapacity":           true,
	"RequestTimeout":                         true,
	"IncorrectInstanceState":                 true,
	"IncorrectState":                         true,
	"UnavailableException":                   true,
}

// IsTransient classifies an error as retryable. Callers decide retry
// eligibility on this classification, never on client internals.
func IsTransient(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if transientCodes[apiErr.ErrorCode()] {
			return true
		}
		return apiErr.ErrorFault() == smithy.FaultServer
	}
	return false
}

// NewBackOff builds an exponential backoff from a wait budget. The zero
// RandomizationFactor default keeps jitter on.
func NewBackOff(ctx context.Context, w config.WaitConfig) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.BaseDelay
	bo.Multiplier = w.Multiplier
	bo.MaxInterval = w.MaxInterval
	bo.MaxElapsedTime = w.MaxElapsed
	bo.Reset()
	return backoff.WithContext(bo, ctx)
}

// RetryTransient runs op, retrying with backoff while the error classifies
// as transient. Permanent errors surface immediately.
func RetryTransient(ctx context.Context, w config.WaitConfig, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, NewBackOff(ctx, w))
}

// NotFoundError marks a lookup that returned no matching resource.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
