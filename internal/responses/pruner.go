package responses

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var scheduleParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Pruner enforces a retention window on a Store. A zero retention keeps
// responses forever and the pruner never deletes anything.
type Pruner struct {
	store     Store
	retention time.Duration
	schedule  cron.Schedule
	spec      string
	logger    *slog.Logger
	now       func() time.Time
}

// NewPruner validates spec (a cron expression or descriptor such as "@hourly").
func NewPruner(store Store, retention time.Duration, spec string, logger *slog.Logger) (*Pruner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = "@hourly"
	}
	schedule, err := scheduleParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", spec, err)
	}
	return &Pruner{
		store:     store,
		retention: retention,
		schedule:  schedule,
		spec:      spec,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Enabled reports whether a retention window is configured.
func (p *Pruner) Enabled() bool {
	return p != nil && p.retention > 0
}

// PruneOnce removes everything older than the retention window.
func (p *Pruner) PruneOnce(ctx context.Context) (int64, error) {
	if !p.Enabled() {
		return 0, nil
	}
	cutoff := p.now().Add(-p.retention)
	removed, err := p.store.Prune(ctx, cutoff)
	if err != nil {
		return removed, err
	}
	if removed > 0 {
		p.logger.InfoContext(ctx, "pruned large responses", "removed", removed, "cutoff", cutoff)
	}
	return removed, nil
}

// Run schedules PruneOnce until ctx is done. It returns immediately when
// retention is disabled.
func (p *Pruner) Run(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	c := cron.New(cron.WithParser(scheduleParser))
	c.Schedule(p.schedule, cron.FuncJob(func() {
		if _, err := p.PruneOnce(ctx); err != nil {
			p.logger.Warn("large response prune failed", "error", err)
		}
	}))
	c.Start()
	p.logger.Info("large response pruner started", "schedule", p.spec, "retention", p.retention)

	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	return nil
}
