package flow

import (
	"sync"
	"time"
)

// countdown ticks once per interval until the duration elapses, then
// fires onExpired. Stop is idempotent and guarantees the callback never
// fires afterward.
type countdown struct {
	mu        sync.Mutex
	remaining int
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func startCountdown(duration, tick time.Duration, onExpired func()) *countdown {
	if tick <= 0 {
		tick = time.Second
	}
	total := int(duration / tick)
	if total <= 0 {
		total = 1
	}
	c := &countdown{
		remaining: total,
		stopCh:    make(chan struct{}),
	}
	go func() {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.mu.Lock()
				c.remaining--
				done := c.remaining <= 0
				c.mu.Unlock()
				if done {
					c.Stop()
					onExpired()
					return
				}
			}
		}
	}()
	return c
}

// Remaining reports whole ticks left on the clock.
func (c *countdown) Remaining() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remaining < 0 {
		return 0
	}
	return c.remaining
}

func (c *countdown) Stop() {
	if c == nil {
		return
	}
	c.stopOnce.Do(func() { close(c.stopCh) })
}
