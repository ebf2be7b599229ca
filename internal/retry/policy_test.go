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
package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelayModes(t *testing.T) {
	linear := Policy{Mode: ModeLinear, Initial: 5 * time.Second, Attempts: 3}
	if linear.Delay(1) != 5*time.Second || linear.Delay(2) != 10*time.Second {
		t.Errorf("Unexpected linear delays %v %v", linear.Delay(1), linear.Delay(2))
	}
	exp := Policy{Mode: ModeExponential, Initial: time.Second, Max: 3 * time.Second}
	if exp.Delay(2) != 2*time.Second || exp.Delay(3) != 3*time.Second {
		t.Errorf("Unexpected exponential delays %v %v", exp.Delay(2), exp.Delay(3))
	}
	if linear.Delay(0) != 0 {
		t.Error("Expected no delay before the first attempt")
	}
}

func TestDoBoundsAttempts(t *testing.T) {
	p := NewPolicy(3, time.Millisecond)
	var attempts, retries int
	var delays []time.Duration
	err := p.Do(context.Background(), func(int) error {
		attempts++
		return errors.New("registry unavailable")
	}, func(attempt int, err error, delay time.Duration) {
		retries++
		delays = append(delays, delay)
	})
	if err == nil {
		t.Fatal("Expected the last error")
	}
	if attempts != 3 || retries != 2 {
		t.Errorf("attempts=%d retries=%d, want 3 and 2", attempts, retries)
	}
	if delays[0] != time.Millisecond || delays[1] != 2*time.Millisecond {
		t.Errorf("Expected attempt x initial backoff, got %v", delays)
	}
}

func TestDoStopsOnSuccess(t *testing.T) {
	p := NewPolicy(3, time.Millisecond)
	calls := 0
	err := p.Do(context.Background(), func(attempt int) error {
		calls++
		if attempt < 2 {
			return errors.New("flaky")
		}
		return nil
	}, nil)
	if err != nil || calls != 2 {
		t.Errorf("err=%v calls=%d", err, calls)
	}
}

func TestDoHonoursCancellation(t *testing.T) {
	p := NewPolicy(3, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Do(ctx, func(int) error { return errors.New("fail") }, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
