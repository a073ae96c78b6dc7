//go:build !unix

package termcap

import "context"

// NotifyResize delivers an event whenever the controlling terminal is resized.
// Resize signals are not available on this platform, so the channel only
// closes when ctx is done.
func NotifyResize(ctx context.Context) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out
}
