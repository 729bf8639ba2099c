package task

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Implement operation retrying
type Retry struct {
	ctx             context.Context
	maxElapsedTime  time.Duration
	maxInterval     time.Duration
	initialInterval time.Duration
	multiplier      float64
	maxRetries      uint64
	isTransient     func(error) bool
	onError         func(err error, attempt int)
}

func NewRetry() *Retry {
	return &Retry{
		ctx:         context.Background(),
		isTransient: func(error) bool { return true },
		onError:     func(error, int) {},
	}
}

func (self *Retry) WithMaxElapsedTime(maxElapsedTime time.Duration) *Retry {
	self.maxElapsedTime = maxElapsedTime
	return self
}

func (self *Retry) WithMaxInterval(maxInterval time.Duration) *Retry {
	self.maxInterval = maxInterval
	return self
}

func (self *Retry) WithInitialInterval(v time.Duration) *Retry {
	self.initialInterval = v
	return self
}

func (self *Retry) WithMultiplier(v float64) *Retry {
	self.multiplier = v
	return self
}

// Zero means no limit
func (self *Retry) WithMaxRetries(v uint64) *Retry {
	self.maxRetries = v
	return self
}

func (self *Retry) WithContext(ctx context.Context) *Retry {
	self.ctx = ctx
	return self
}

// Errors that aren't transient are returned immediately
func (self *Retry) WithTransient(v func(error) bool) *Retry {
	self.isTransient = v
	return self
}

func (self *Retry) WithOnError(v func(err error, attempt int)) *Retry {
	self.onError = v
	return self
}

func (self *Retry) Run(f func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = self.maxElapsedTime
	if self.maxInterval > 0 {
		b.MaxInterval = self.maxInterval
	}
	if self.initialInterval > 0 {
		b.InitialInterval = self.initialInterval
	}
	if self.multiplier > 0 {
		b.Multiplier = self.multiplier
	}

	var policy backoff.BackOff = b
	if self.maxRetries > 0 {
		policy = backoff.WithMaxRetries(b, self.maxRetries)
	}

	attempt := 0
	op := func() error {
		err := f()
		if err != nil && !self.isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, _ time.Duration) {
		attempt++
		self.onError(err, attempt)
	}

	return backoff.RetryNotify(op, backoff.WithContext(policy, self.ctx), notify)
}
