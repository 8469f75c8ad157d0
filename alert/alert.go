// Package alert holds the single user-visible transient error.
package alert

import (
	"sync"
	"time"
)

// DefaultTimeout is how long an error stays visible.
const DefaultTimeout = 5 * time.Second

// Pending is the currently visible error.
type Pending struct {
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Channel holds at most one Pending error. Raising a new error replaces
// the old one and restarts the expiry; only one timer is ever live.
type Channel struct {
	timeout time.Duration
	now     func() time.Time

	mx      sync.Mutex
	current *Pending
	timer   *time.Timer
	gen     uint64
	subs    map[chan *Pending]struct{}
}

// New creates a Channel whose errors expire after timeout
// (DefaultTimeout if zero).
func New(timeout time.Duration) *Channel {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Channel{
		timeout: timeout,
		now:     time.Now,
		subs:    make(map[chan *Pending]struct{}),
	}
}

// Raise makes msg the visible error.
func (c *Channel) Raise(msg string) {
	c.mx.Lock()
	defer c.mx.Unlock()

	c.stop()
	c.gen++
	gen := c.gen
	c.current = &Pending{Message: msg, CreatedAt: c.now()}
	c.timer = time.AfterFunc(c.timeout, func() { c.expire(gen) })
	c.publish()
}

// Clear removes the visible error, if any, and cancels its timer.
func (c *Channel) Clear() {
	c.mx.Lock()
	defer c.mx.Unlock()

	c.stop()
	c.gen++
	if c.current == nil {
		return
	}
	c.current = nil
	c.publish()
}

// Current returns the visible error.
func (c *Channel) Current() (Pending, bool) {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.current == nil {
		return Pending{}, false
	}
	return *c.current, true
}

// Subscribe returns a channel holding the latest change; nil means cleared.
func (c *Channel) Subscribe() (<-chan *Pending, func()) {
	ch := make(chan *Pending, 1)
	c.mx.Lock()
	c.subs[ch] = struct{}{}
	c.mx.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mx.Lock()
			delete(c.subs, ch)
			c.mx.Unlock()
		})
	}
}

func (c *Channel) expire(gen uint64) {
	c.mx.Lock()
	defer c.mx.Unlock()
	// a newer Raise or Clear owns the channel
	if gen != c.gen {
		return
	}
	c.timer = nil
	c.current = nil
	c.publish()
}

func (c *Channel) stop() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// publish must be called with mx held.
func (c *Channel) publish() {
	var p *Pending
	if c.current != nil {
		cp := *c.current
		p = &cp
	}
	for ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- p
	}
}
