package ecs

import (
	"context"
	"errors"

	"github.com/aws/smithy-go"

	"github.com/example/ecs-manage/internal/core/failure"
)

// transientCodes are API error codes that clear up on retry.
var transientCodes = map[string]bool{
	"ThrottlingException":         true,
	"Throttling":                  true,
	"TooManyRequestsException":    true,
	"RequestLimitExceeded":        true,
	"ServerException":             true,
	"ServiceUnavailable":          true,
	"ServiceUnavailableException": true,
	"InternalFailure":             true,
}

// classify maps an SDK error onto the failure taxonomy. Errors without an
// API response are transport failures and are retryable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return failure.Wrap(failure.KindTimeout, op, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if transientCodes[apiErr.ErrorCode()] || apiErr.ErrorFault() == smithy.FaultServer {
			return failure.Wrap(failure.KindPlatformUnavailable, op, err)
		}
		return failure.Wrap(failure.KindPlatformRejected, op, err)
	}

	return failure.Wrap(failure.KindPlatformUnavailable, op, err)
}
