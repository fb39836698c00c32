// Copyright 2025 Shan
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package connector

import (
	"context"
	"math/rand"
	"time"

	"github.com/szqshan/apiconnect/internal/config"
)

// idempotentMethods are the only methods eligible for automatic retry.
// Anything that may mutate remote state runs exactly once.
var idempotentMethods = map[string]bool{
	"GET":  true,
	"HEAD": true,
}

// attemptFunc executes a single request attempt.
type attemptFunc func(ctx context.Context) (*Response, error)

// executeWithRetry runs fn under the retry policy. Non-idempotent
// methods get exactly one attempt. Retries apply exponential backoff
// with jitter and honor Retry-After on rate limit responses.
func executeWithRetry(ctx context.Context, policy config.Retry, method string, fn attemptFunc) (*Response, error) {
	maxAttempts := policy.MaxAttempts
	if !idempotentMethods[method] {
		maxAttempts = 1
	}

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := fn(ctx)
		if err == nil {
			resp.Attempts = attempt
			return resp, nil
		}
		lastErr = err

		retryable, retryAfter := shouldRetry(err, policy)
		if attempt >= maxAttempts || !retryable {
			return nil, lastErr
		}

		if ctx.Err() != nil {
			return nil, &Error{
				Type:    ErrorTypeTimeout,
				Message: "call cancelled before retry",
				Cause:   ctx.Err(),
			}
		}

		select {
		case <-time.After(backoffDelay(policy, attempt, retryAfter)):
		case <-ctx.Done():
			return nil, &Error{
				Type:    ErrorTypeTimeout,
				Message: "call cancelled during retry backoff",
				Cause:   ctx.Err(),
			}
		}
	}

	return nil, lastErr
}

// shouldRetry decides whether an attempt error warrants another try and
// extracts any Retry-After hint.
func shouldRetry(err error, policy config.Retry) (bool, time.Duration) {
	callErr, ok := err.(*Error)
	if !ok {
		return false, 0
	}
	if !callErr.IsRetryable() {
		return false, 0
	}

	if callErr.StatusCode > 0 {
		if !statusRetryable(callErr.StatusCode, policy.RetryableStatus) {
			return false, 0
		}
		if callErr.RetryAfter > 0 {
			return true, time.Duration(callErr.RetryAfter) * time.Second
		}
	}

	return true, 0
}

// statusRetryable checks a status code against the configured list.
func statusRetryable(statusCode int, retryable []int) bool {
	for _, code := range retryable {
		if code == statusCode {
			return true
		}
	}
	return false
}

// backoffDelay computes the wait before the next attempt:
// min(InitialBackoff * BackoffFactor^(attempt-1), MaxBackoff), raised
// to any Retry-After hint (still capped at MaxBackoff), plus jitter.
func backoffDelay(policy config.Retry, attempt int, retryAfter time.Duration) time.Duration {
	base := float64(policy.InitialBackoff)
	for i := 1; i < attempt; i++ {
		base *= policy.BackoffFactor
	}
	if base > float64(policy.MaxBackoff) {
		base = float64(policy.MaxBackoff)
	}

	delay := time.Duration(base)
	if retryAfter > delay {
		delay = retryAfter
	}
	if delay > policy.MaxBackoff {
		delay = policy.MaxBackoff
	}

	if policy.JitterMax > 0 {
		delay += time.Duration(rand.Int63n(int64(policy.JitterMax)))
	}

	return delay
}
