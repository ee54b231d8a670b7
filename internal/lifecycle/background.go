package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Background runs cooperatively cancelled loops that outlive the context of
// the Start call that launched them.
type Background struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

func NewBackground(parent context.Context) *Background {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	group, groupCtx := errgroup.WithContext(ctx)
	return &Background{ctx: groupCtx, cancel: cancel, group: group}
}

// Go runs fn until it returns or the group is stopped. The first non-nil
// error cancels the sibling loops.
func (b *Background) Go(fn func(ctx context.Context) error) {
	b.group.Go(func() error {
		return fn(b.ctx)
	})
}

// Stop cancels every loop and waits for them until ctx is done.
func (b *Background) Stop(ctx context.Context) error {
	b.cancel()

	done := make(chan error, 1)
	go func() {
		done <- b.group.Wait()
	}()

	select {
	case err := <-done:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrStopTimeout, ctx.Err())
	}
}

// Every returns a loop calling fn once per interval until cancelled.
func Every(interval time.Duration, fn func(ctx context.Context)) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				fn(ctx)
			}
		}
	}
}
