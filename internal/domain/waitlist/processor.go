package waitlist

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Processor runs ProcessAll in the background: whenever Kick is called
// (for example after a bed becomes Available) and, if interval > 0, on a
// fixed period. Kicks that arrive while a run is in progress collapse into
// one follow-up run.
type Processor struct {
	svc      *Service
	log      zerolog.Logger
	interval time.Duration
	kick     chan struct{}
}

func NewProcessor(svc *Service, logger zerolog.Logger, interval time.Duration) *Processor {
	return &Processor{
		svc:      svc,
		log:      logger.With().Str("component", "waitlist-processor").Logger(),
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// Kick requests a run without blocking.
func (p *Processor) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled, so call it in a goroutine.
func (p *Processor) Run(ctx context.Context) {
	var tick <-chan time.Time
	if p.interval > 0 {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.kick:
		case <-tick:
		}
		p.runOnce(ctx)
	}
}

func (p *Processor) runOnce(ctx context.Context) {
	report, err := p.svc.ProcessAll(ctx)
	if err != nil {
		p.log.Error().Err(err).Msg("waitlist processing failed")
		return
	}
	if len(report.Attempted) == 0 {
		return
	}
	ev := p.log.Info()
	if len(report.Failures) > 0 {
		ev = p.log.Warn()
	}
	ev.Int("attempted", len(report.Attempted)).
		Int("placed", len(report.Placements)).
		Int("unmatched", len(report.Unmatched)).
		Int("conflicts", len(report.Conflicts)).
		Int("failures", len(report.Failures)).
		Msg("waitlist processed")
}
