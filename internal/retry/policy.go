/*
Copyright © 2026 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package retry runs operations under a bounded backoff policy.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Mode selects how the delay grows between attempts.
type Mode string

const (
	ModeFixed       Mode = "fixed"
	ModeLinear      Mode = "linear"
	ModeExponential Mode = "exponential"
)

// Policy encapsulates retry settings. It is immutable after construction.
type Policy struct {
	Mode    Mode
	Initial time.Duration
	// Max caps the delay; zero means no cap.
	Max time.Duration
	// Attempts is the total number of tries, including the first.
	Attempts int
}

// DefaultPolicy is three attempts with a linear 5s backoff.
func DefaultPolicy() Policy {
	return Policy{Mode: ModeLinear, Initial: 5 * time.Second, Attempts: 3}
}

// NewPolicy builds a linear policy; non-positive values fall back to the
// defaults.
func NewPolicy(attempts int, initial time.Duration) Policy {
	p := DefaultPolicy()
	if attempts > 0 {
		p.Attempts = attempts
	}
	if initial > 0 {
		p.Initial = initial
	}
	return p
}

// Delay returns the wait after the given failed attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	var d time.Duration
	switch p.Mode {
	case ModeFixed:
		d = p.Initial
	case ModeExponential:
		d = p.Initial * (1 << (attempt - 1))
	default:
		d = time.Duration(attempt) * p.Initial
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// Validate ensures the policy can be applied.
func (p Policy) Validate() error {
	if p.Attempts < 1 {
		return fmt.Errorf("attempts must be at least 1")
	}
	if p.Initial < 0 {
		return fmt.Errorf("initial delay cannot be negative")
	}
	return nil
}

// Do runs op until it succeeds or the attempts are exhausted. onRetry, if
// set, is called after each failure that will be retried. The last error is
// returned, or ctx's error if it ends during a backoff.
func (p Policy) Do(ctx context.Context, op func(attempt int) error, onRetry func(attempt int, err error, delay time.Duration)) error {
	attempts := max(p.Attempts, 1)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(attempt); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		delay := p.Delay(attempt)
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
