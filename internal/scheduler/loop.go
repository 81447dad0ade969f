package scheduler

import (
	"context"
	"time"

	"github.com/mwantia/gostage/pkg/log"
)

// loop runs a cycle function right away and then on every tick until stopped.
type loop struct {
	name     string
	interval time.Duration
	logger   log.LoggerService
	cycle    func(ctx context.Context) error

	cancel context.CancelFunc
	done   chan struct{}
}

func (l *loop) start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)

		l.logger.Debug("Started %s loop with interval %s", l.name, l.interval)

		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		for {
			if err := l.cycle(ctx); err != nil && ctx.Err() == nil {
				l.logger.Error("Failed %s cycle: %v", l.name, err)
			}

			select {
			case <-ctx.Done():
				l.logger.Debug("Stopped %s loop", l.name)
				return
			case <-ticker.C:
			}
		}
	}()
}

// stop cancels the loop and waits for the running cycle to return.
func (l *loop) stop() {
	if l.cancel != nil {
		l.cancel()
	}
	if l.done != nil {
		<-l.done
	}
}
