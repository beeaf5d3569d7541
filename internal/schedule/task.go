// Package schedule runs repeating tasks over an injectable clock.
package schedule

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Task is a repeating job started by Every
type Task struct {
	cancel  context.CancelFunc
	trigger chan struct{}
	done    chan struct{}
}

// Every runs fn after initialDelay and then on every interval tick until ctx
// is cancelled or Stop is called. Runs never overlap: ticks that fall due
// while fn is running are dropped, and the schedule stays aligned to the
// first tick. An interval of zero or less runs fn once.
func Every(ctx context.Context, clock clockwork.Clock, initialDelay, interval time.Duration, fn func(context.Context)) *Task {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		cancel:  cancel,
		trigger: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go t.run(ctx, clock, initialDelay, interval, fn)
	return t
}

// Trigger asks for an immediate run. It never blocks; a trigger that arrives
// while one is already queued is merged with it.
func (t *Task) Trigger() {
	select {
	case t.trigger <- struct{}{}:
	default:
	}
}

// Stop cancels the task and waits for an in-flight run to return
func (t *Task) Stop() {
	t.cancel()
	<-t.done
}

// Done is closed once the task has exited
func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) run(ctx context.Context, clock clockwork.Clock, initialDelay, interval time.Duration, fn func(context.Context)) {
	defer close(t.done)

	next := clock.Now().Add(initialDelay)
	for {
		timer := clock.NewTimer(next.Sub(clock.Now()))
		scheduled := false
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-t.trigger:
			timer.Stop()
		case <-timer.Chan():
			scheduled = true
		}

		fn(ctx)
		if ctx.Err() != nil {
			return
		}

		if scheduled {
			if interval <= 0 {
				return
			}
			next = next.Add(interval)
		}
		if interval > 0 {
			now := clock.Now()
			for !next.After(now) {
				next = next.Add(interval)
			}
		}
	}
}
