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
	"sync"

	"golang.org/x/time/rate"

	"github.com/szqshan/apiconnect/internal/config"
)

// limiterPool holds one token bucket per API. Limiters survive config
// reloads so a reload cannot be used to reset a depleted bucket, but a
// changed limit replaces the bucket.
type limiterPool struct {
	mu       sync.Mutex
	limiters map[string]*pooledLimiter
}

type pooledLimiter struct {
	limiter *rate.Limiter
	rps     float64
	burst   int
}

func newLimiterPool() *limiterPool {
	return &limiterPool{limiters: make(map[string]*pooledLimiter)}
}

// wait blocks until the API's bucket admits one call. APIs without a
// configured rate limit pass through immediately.
func (p *limiterPool) wait(ctx context.Context, apiName string, rl *config.RateLimit) error {
	if rl == nil || rl.RequestsPerSecond <= 0 {
		return nil
	}

	burst := rl.Burst
	if burst < 1 {
		burst = 1
	}

	p.mu.Lock()
	entry, ok := p.limiters[apiName]
	if !ok || entry.rps != rl.RequestsPerSecond || entry.burst != burst {
		entry = &pooledLimiter{
			limiter: rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), burst),
			rps:     rl.RequestsPerSecond,
			burst:   burst,
		}
		p.limiters[apiName] = entry
	}
	p.mu.Unlock()

	if err := entry.limiter.Wait(ctx); err != nil {
		return &Error{
			Type:        ErrorTypeTimeout,
			Message:     "rate limit wait cancelled",
			Cause:       err,
			SuggestText: "Increase the call timeout or raise rate_limit.requests_per_second",
		}
	}
	return nil
}
