package geolib

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	circuitBreakerStateClosed uint32 = iota
	circuitBreakerStateHalfOpened
	circuitBreakerStateOpened
)

// circuitBreaker is a classic 3-state breaker. A callback error counts
// as a failure unless it wraps ErrCircuitBreakerIgnore.
type circuitBreaker struct {
	mutex sync.Mutex

	state            uint32
	failuresCount    uint32
	halfOpenInFlight bool

	halfOpenTimer        *time.Timer
	failuresCleanupTimer *time.Timer

	openThreshold        uint32
	halfOpenTimeout      time.Duration
	resetFailuresTimeout time.Duration
}

func (c *circuitBreaker) Do(ctx context.Context, callback func(context.Context) error) error {
	if err := c.acquire(); err != nil {
		return err
	}

	err := callback(ctx)

	c.release(err)

	return err
}

func (c *circuitBreaker) acquire() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	switch c.state {
	case circuitBreakerStateOpened:
		return ErrCircuitBreakerOpened
	case circuitBreakerStateHalfOpened:
		if c.halfOpenInFlight {
			return ErrCircuitBreakerOpened
		}

		c.halfOpenInFlight = true
	}

	return nil
}

func (c *circuitBreaker) release(err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	switch {
	case errors.Is(err, ErrCircuitBreakerIgnore):
		c.halfOpenInFlight = false
	case err == nil:
		c.switchState(circuitBreakerStateClosed)
	case c.state == circuitBreakerStateHalfOpened:
		c.switchState(circuitBreakerStateOpened)
	case c.state == circuitBreakerStateClosed:
		c.failuresCount++

		if c.failuresCount >= c.openThreshold {
			c.switchState(circuitBreakerStateOpened)
		}
	}
}

// switchState has to be called with a locked mutex.
func (c *circuitBreaker) switchState(state uint32) {
	switch state {
	case circuitBreakerStateClosed:
		c.stopTimer(&c.halfOpenTimer)
		c.ensureTimer(&c.failuresCleanupTimer, c.resetFailuresTimeout, c.resetFailures)
	case circuitBreakerStateHalfOpened:
		c.stopTimer(&c.failuresCleanupTimer)
		c.stopTimer(&c.halfOpenTimer)
	case circuitBreakerStateOpened:
		c.stopTimer(&c.failuresCleanupTimer)
		c.ensureTimer(&c.halfOpenTimer, c.halfOpenTimeout, c.tryHalfOpen)
	}

	c.failuresCount = 0
	c.halfOpenInFlight = false
	c.state = state
}

func (c *circuitBreaker) resetFailures() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.failuresCleanupTimer = nil

	if c.state == circuitBreakerStateClosed {
		c.switchState(circuitBreakerStateClosed)
	}
}

func (c *circuitBreaker) tryHalfOpen() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.halfOpenTimer = nil

	if c.state == circuitBreakerStateOpened {
		c.switchState(circuitBreakerStateHalfOpened)
	}
}

func (c *circuitBreaker) stop() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.stopTimer(&c.failuresCleanupTimer)
	c.stopTimer(&c.halfOpenTimer)
}

func (c *circuitBreaker) stopTimer(timerRef **time.Timer) {
	if *timerRef != nil {
		(*timerRef).Stop()
		*timerRef = nil
	}
}

func (c *circuitBreaker) ensureTimer(timerRef **time.Timer, timeout time.Duration, callback func()) {
	if *timerRef == nil {
		*timerRef = time.AfterFunc(timeout, callback)
	}
}

func newCircuitBreaker(openThreshold uint32,
	halfOpenTimeout, resetFailuresTimeout time.Duration) *circuitBreaker {
	if openThreshold == 0 {
		openThreshold = 1
	}

	cb := &circuitBreaker{
		openThreshold:        openThreshold,
		halfOpenTimeout:      halfOpenTimeout,
		resetFailuresTimeout: resetFailuresTimeout,
	}

	cb.mutex.Lock()
	cb.switchState(circuitBreakerStateClosed)
	cb.mutex.Unlock()

	return cb
}
