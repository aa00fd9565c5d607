package rendezvous

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"netpong/frame"
)

// Outbox sends peer pushes from a single goroutine so the game loop never
// waits on the network. Only the newest message of each command is kept:
// a paddle position superseded before it was sent is dropped. A message
// whose send fails goes back to the queue unless a newer one of the same
// command arrived meanwhile.
type Outbox struct {
	// RetryDelay is the pause after a failed send. It doubles on every
	// further failure up to MaxRetryDelay and resets after a success.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	client *Client
	addr   netip.AddrPort

	mu      sync.Mutex
	pending map[string]frame.Message
	order   []string
	wake    chan struct{}
}

// NewOutbox returns an outbox delivering to addr through c.
func NewOutbox(c *Client, addr netip.AddrPort) *Outbox {
	return &Outbox{
		RetryDelay:    50 * time.Millisecond,
		MaxRetryDelay: time.Second,
		client:        c,
		addr:          addr,
		pending:       make(map[string]frame.Message),
		wake:          make(chan struct{}, 1),
	}
}

// Push queues msg. It never blocks.
func (o *Outbox) Push(msg frame.Message) {
	cmd := msg.Command()
	o.mu.Lock()
	if _, ok := o.pending[cmd]; !ok {
		o.order = append(o.order, cmd)
	}
	o.pending[cmd] = msg
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Len reports how many messages are waiting.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// next removes and returns the oldest queued message.
func (o *Outbox) next() (frame.Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.order) == 0 {
		return nil, false
	}
	cmd := o.order[0]
	o.order = o.order[1:]
	msg := o.pending[cmd]
	delete(o.pending, cmd)
	return msg, true
}

// requeue puts msg back at the front unless it has been superseded.
func (o *Outbox) requeue(msg frame.Message) {
	cmd := msg.Command()
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.pending[cmd]; ok {
		return
	}
	o.pending[cmd] = msg
	o.order = append([]string{cmd}, o.order...)
}

// Run delivers queued messages until ctx is done.
func (o *Outbox) Run(ctx context.Context) {
	delay := o.RetryDelay
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.wake:
		}

		for {
			msg, ok := o.next()
			if !ok {
				break
			}
			if err := o.client.Send(ctx, o.addr, msg); err != nil {
				if ctx.Err() != nil {
					return
				}
				o.requeue(msg)
				if !pause(ctx, delay) {
					return
				}
				delay = o.backoff(delay)
				continue
			}
			delay = o.RetryDelay
		}
	}
}

func (o *Outbox) backoff(d time.Duration) time.Duration {
	d *= 2
	if d <= 0 {
		return o.RetryDelay
	}
	if o.MaxRetryDelay > 0 && d > o.MaxRetryDelay {
		d = o.MaxRetryDelay
	}
	return d
}

// pause waits for d and reports false if ctx ended first.
func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
