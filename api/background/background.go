// Package background runs fire-and-forget tasks, like transactional email,
// outside the request cycle. A failed task is logged and dropped: it must
// never undo the committed write that queued it.
package background

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

type Background struct {
	log logrus.FieldLogger
	wg  sync.WaitGroup
}

func New(log logrus.FieldLogger) *Background {
	return &Background{log: log}
}

// Add schedules fn on its own goroutine. Panics are recovered so a broken
// task cannot take the process down.
func (b *Background) Add(fn func() error) {
	b.wg.Add(1)

	go func() {
		defer b.wg.Done()

		defer func() {
			if rec := recover(); rec != nil {
				b.log.Errorf("background task panic: %v", rec)
			}
		}()

		if err := fn(); err != nil {
			b.log.Errorf("background task: %v", err)
		}
	}()
}

// Shutdown waits for in-flight tasks until the context expires.
func (b *Background) Shutdown(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for background tasks: %w", ctx.Err())
	}
}
