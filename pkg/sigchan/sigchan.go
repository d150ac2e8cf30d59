// Package sigchan provides a non-blocking signal channel for waking waiters
// without carrying data.
package sigchan

type Chan struct {
	c chan struct{}
}

func New(bufferSize int) *Chan {
	return &Chan{c: make(chan struct{}, bufferSize)}
}

// Emit sends a signal without blocking; if the buffer is full the signal is
// already pending and dropping the duplicate is fine.
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
