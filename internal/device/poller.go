package device

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/koios/openmatrix/internal/schedule"
)

// Poller refreshes a client's mirror on a fixed interval
type Poller struct {
	client       *Client
	clock        clockwork.Clock
	initialDelay time.Duration
	interval     time.Duration
	logger       *zap.Logger

	mu   sync.Mutex
	task *schedule.Task
}

// NewPoller creates a poller. A nil clock uses the wall clock.
func NewPoller(client *Client, clock clockwork.Clock, initialDelay, interval time.Duration) *Poller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Poller{
		client:       client,
		clock:        clock,
		initialDelay: initialDelay,
		interval:     interval,
		logger:       client.logger,
	}
}

// Start begins polling in the background. Polls never overlap.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.task != nil {
		return
	}

	p.logger.Info("Starting state poller",
		zap.String("device", p.client.BaseURL()),
		zap.Duration("initial_delay", p.initialDelay),
		zap.Duration("interval", p.interval))

	p.task = schedule.Every(ctx, p.clock, p.initialDelay, p.interval, func(ctx context.Context) {
		// PollState logs and degrades the mirror itself
		_ = p.client.PollState(ctx)
	})
}

// Run polls until ctx is cancelled
func (p *Poller) Run(ctx context.Context) {
	p.Start(ctx)
	<-ctx.Done()
	p.Stop()
}

// TriggerRefresh requests an immediate poll without blocking
func (p *Poller) TriggerRefresh() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.task != nil {
		p.task.Trigger()
	}
}

// Stop halts polling and waits for an in-flight poll to finish
func (p *Poller) Stop() {
	p.mu.Lock()
	task := p.task
	p.task = nil
	p.mu.Unlock()

	if task != nil {
		task.Stop()
		p.logger.Info("State poller stopped")
	}
}
