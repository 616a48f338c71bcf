package lipsync

import "sync"

// Subscribe returns a channel that receives every published [Status] and a
// function that cancels the subscription. The channel holds one snapshot; a
// slow reader skips intermediate snapshots but always sees the latest one.
// The current status is delivered immediately.
//
// The channel is closed by the cancel function or by [Controller.Close].
func (c *Controller) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 1)

	c.subMu.Lock()
	if c.subsClosed {
		ch <- c.Status()
		close(ch)
		c.subMu.Unlock()
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.Status()
	c.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// publish delivers st to every subscriber without blocking. A full channel
// has its stale snapshot replaced.
func (c *Controller) publish(st Status) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- st:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}
