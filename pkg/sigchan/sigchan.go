// Package sigchan provides a non-blocking notification channel: it signals
// that something happened without carrying data, and never blocks the
// emitter when the receiver is behind.
package sigchan

type Chan struct {
	c chan struct{}
}

func New(bufferSize int) *Chan {
	return &Chan{c: make(chan struct{}, bufferSize)}
}

// Emit signals once. A full buffer drops the signal; the receiver will wake
// up anyway from the one already queued.
func (c *Chan) Emit() {
	select {
	case c.c <- struct{}{}:
	default:
	}
}

// C exposes the channel for select loops.
func (c *Chan) C() <-chan struct{} {
	return c.c
}
