package fusion

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	goutils "go.viam.com/utils"

	"github.com/atlas-sensing/atlas/config"
	"github.com/atlas-sensing/atlas/spatialmath"
)

// A Sink receives fused pose estimates as they are published.
type Sink func(entityName string, pose spatialmath.Transform)

// Publisher periodically reads every entity's consensus pose from a
// Tracker and forwards fresh estimates to a sink at the configured loop
// rate. Entities whose last observation is older than the decay duration
// are considered stale and skipped.
type Publisher struct {
	tracker *Tracker
	opts    config.Options
	sink    Sink
	clock   clock.Clock
	logger  golog.Logger
	workers *goutils.StoppableWorkers
}

// NewPublisher wires a tracker to a sink. A mock clock may be injected
// for deterministic tests; pass clock.New() in production.
func NewPublisher(
	tracker *Tracker,
	opts config.Options,
	sink Sink,
	clk clock.Clock,
	logger golog.Logger,
) *Publisher {
	return &Publisher{tracker: tracker, opts: opts, sink: sink, clock: clk, logger: logger}
}

// Start begins the publish loop.
func (p *Publisher) Start() {
	rate := p.opts.LoopRate
	if rate <= 0 {
		p.logger.Debugw("nonpositive loop rate; defaulting to 60Hz", "loopRate", rate)
		rate = 60.0
	}
	period := time.Duration(float64(time.Second) / rate)

	p.workers = goutils.NewBackgroundStoppableWorkers(func(ctx context.Context) {
		ticker := p.clock.Ticker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				p.publishTick(now)
			}
		}
	})
}

// Stop halts the publish loop and waits for it to exit.
func (p *Publisher) Stop() {
	if p.workers != nil {
		p.workers.Stop()
	}
}

func (p *Publisher) publishTick(now time.Time) {
	if !p.opts.PublishPoseTopics {
		return
	}
	for _, name := range p.tracker.EntityNames() {
		last, err := p.tracker.LastUpdate(name)
		if err != nil || last.IsZero() {
			continue
		}
		if p.opts.DecayDuration > 0 && now.Sub(last).Seconds() > p.opts.DecayDuration {
			continue
		}
		pose, err := p.tracker.CurrentEstimate(name)
		if err != nil {
			p.logger.Errorw("failed to read pose estimate", "entity", name, "error", err)
			continue
		}
		p.sink(name, pose)
	}
}
