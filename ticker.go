package multibar

import "time"

type ticker struct {
	stop chan struct{}
	done chan struct{}
}

// StartTicker starts a goroutine that redraws every interval, so spinners
// animate and elapsed times move even when no tracker reports progress.
// While it runs, tracker updates no longer draw by themselves.
func (c *Coordinator) StartTicker() {
	c.tickerMu.Lock()
	defer c.tickerMu.Unlock()
	if c.ticker != nil {
		return
	}
	t := &ticker{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	c.ticker = t
	c.tickerOn.Store(true)
	go c.tickLoop(t)
}

// StopTicker stops the goroutine started by StartTicker and waits for it.
func (c *Coordinator) StopTicker() {
	c.tickerMu.Lock()
	defer c.tickerMu.Unlock()
	if c.ticker == nil {
		return
	}
	close(c.ticker.stop)
	<-c.ticker.done
	c.ticker = nil
	c.tickerOn.Store(false)
}

func (c *Coordinator) tickLoop(t *ticker) {
	defer close(t.done)

	interval := c.cfg.interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	tk := time.NewTicker(interval)
	defer tk.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-tk.C:
			c.dirty.Store(true)
			c.mu.Lock()
			err := c.drawLocked(drawUpdate)
			c.mu.Unlock()
			c.report(err)
		}
	}
}
