package jobs

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"

	"breadcrumbd/internal/services"
)

// TTLPurger periodically removes breadcrumbs past their TTL. Each
// sweep routes through the versioned delete path so subscribers see a
// normal deleted event for every purged record.
type TTLPurger struct {
	breadcrumbs *services.BreadcrumbService
	scheduler   gocron.Scheduler
	interval    time.Duration
	logger      *logrus.Entry
}

// NewTTLPurger creates a purger sweeping at the given interval.
func NewTTLPurger(breadcrumbs *services.BreadcrumbService, interval time.Duration) (*TTLPurger, error) {
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &TTLPurger{
		breadcrumbs: breadcrumbs,
		scheduler:   scheduler,
		interval:    interval,
		logger:      logrus.WithField("job", "ttl_purge"),
	}, nil
}

// Start schedules the recurring sweep.
func (p *TTLPurger) Start() error {
	_, err := p.scheduler.NewJob(
		gocron.DurationJob(p.interval),
		gocron.NewTask(func() {
			p.Sweep(context.Background())
		}),
	)
	if err != nil {
		return err
	}
	p.scheduler.Start()
	p.logger.WithField("interval", p.interval.String()).Info("TTL purge scheduled")
	return nil
}

// Sweep runs one purge pass and returns the number removed. Exposed
// separately so the admin purge endpoint can trigger it on demand.
func (p *TTLPurger) Sweep(ctx context.Context) int {
	start := time.Now()
	purged, err := p.breadcrumbs.PurgeExpired(ctx, time.Now().UTC())
	if err != nil {
		p.logger.WithError(err).Error("purge sweep failed")
		return 0
	}
	if purged > 0 {
		p.logger.WithFields(logrus.Fields{
			"purged":   purged,
			"duration": time.Since(start).String(),
		}).Info("purge sweep complete")
		if m := services.GetMetrics(); m != nil {
			m.RecordPurged(purged)
		}
	}
	return purged
}

// Stop shuts the scheduler down.
func (p *TTLPurger) Stop() {
	_ = p.scheduler.Shutdown()
}
