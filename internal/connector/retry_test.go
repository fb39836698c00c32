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
	"testing"
	"time"

	"github.com/szqshan/apiconnect/internal/config"
)

func testPolicy() config.Retry {
	return config.Retry{
		MaxAttempts:     3,
		InitialBackoff:  time.Second,
		MaxBackoff:      30 * time.Second,
		BackoffFactor:   2.0,
		RetryableStatus: []int{408, 429, 500, 502, 503, 504},
	}
}

func TestBackoffDelay(t *testing.T) {
	policy := testPolicy()

	tests := []struct {
		name       string
		attempt    int
		retryAfter time.Duration
		want       time.Duration
	}{
		{"first retry", 1, 0, time.Second},
		{"second retry doubles", 2, 0, 2 * time.Second},
		{"third retry doubles again", 3, 0, 4 * time.Second},
		{"capped at max backoff", 10, 0, 30 * time.Second},
		{"retry-after raises the delay", 1, 5 * time.Second, 5 * time.Second},
		{"retry-after capped at max backoff", 1, 5 * time.Minute, 30 * time.Second},
		{"retry-after below backoff ignored", 3, time.Second, 4 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := backoffDelay(policy, tt.attempt, tt.retryAfter); got != tt.want {
				t.Errorf("backoffDelay(attempt=%d, retryAfter=%v) = %v, want %v", tt.attempt, tt.retryAfter, got, tt.want)
			}
		})
	}
}

func TestBackoffDelay_Jitter(t *testing.T) {
	policy := testPolicy()
	policy.JitterMax = 100 * time.Millisecond

	for i := 0; i < 20; i++ {
		got := backoffDelay(policy, 1, 0)
		if got < time.Second || got >= time.Second+100*time.Millisecond {
			t.Fatalf("backoffDelay() = %v, want within [1s, 1.1s)", got)
		}
	}
}

func TestShouldRetry(t *testing.T) {
	policy := testPolicy()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"server error", &Error{Type: ErrorTypeServer, StatusCode: 502}, true},
		{"timeout", &Error{Type: ErrorTypeTimeout}, true},
		{"connection error", &Error{Type: ErrorTypeConnection}, true},
		{"rate limited", &Error{Type: ErrorTypeRateLimit, StatusCode: 429}, true},
		{"not found", &Error{Type: ErrorTypeNotFound, StatusCode: 404}, false},
		{"auth error", &Error{Type: ErrorTypeAuth, StatusCode: 401}, false},
		{"validation", &Error{Type: ErrorTypeValidation}, false},
		{"server status not in list", &Error{Type: ErrorTypeServer, StatusCode: 501}, false},
		{"untyped error", assertError("plain"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := shouldRetry(tt.err, policy)
			if got != tt.want {
				t.Errorf("shouldRetry(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestShouldRetry_RetryAfterExtracted(t *testing.T) {
	policy := testPolicy()
	retryable, retryAfter := shouldRetry(&Error{Type: ErrorTypeRateLimit, StatusCode: 429, RetryAfter: 7}, policy)
	if !retryable {
		t.Fatal("shouldRetry() = false, want true")
	}
	if retryAfter != 7*time.Second {
		t.Errorf("retryAfter = %v, want 7s", retryAfter)
	}
}

type assertError string

func (e assertError) Error() string { return string(e) }
