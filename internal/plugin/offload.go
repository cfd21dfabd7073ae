package plugin

import (
	"context"
	"fmt"

	"github.com/fs9/fs9/pkg/fsprovider"
)

// offloadPool runs plugin vtable calls on a fixed-size pool of goroutines
// dedicated to blocking work, so a plugin doing blocking I/O never starves
// the goroutines serving ordinary HTTP requests.
type offloadPool struct {
	sem chan struct{}
}

func newOffloadPool(size int) *offloadPool {
	return &offloadPool{sem: make(chan struct{}, size)}
}

// run executes fn on a pool worker and waits for it to finish or ctx to be
// canceled, whichever comes first. A panic inside fn is recovered and
// surfaced as an Internal error rather than crashing the process; the
// underlying goroutine is not otherwise interruptible, matching a real FFI
// call that cannot be aborted mid-flight.
func (p *offloadPool) run(ctx context.Context, fn func() error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fsprovider.Internal(fmt.Sprintf("plugin panic: %v", r))
			}
		}()
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
