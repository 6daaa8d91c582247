package registry

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"relaybot/pkg/logx"
)

// RetentionConfig controls pruning of old broadcast records.
// MaxAge <= 0 disables retention entirely (the log is kept forever).
type RetentionConfig struct {
	MaxAge   time.Duration
	Schedule string // cron spec; default "0 3 * * *"
}

// Retention periodically deletes broadcast records older than MaxAge.
type Retention struct {
	cfg   RetentionConfig
	store Store
	log   logx.Logger
	cr    *cron.Cron
}

func NewRetention(cfg RetentionConfig, store Store, log logx.Logger) *Retention {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Retention{cfg: cfg, store: store, log: log}
}

func (r *Retention) Start() error {
	if r.cfg.MaxAge <= 0 {
		r.log.Debug("broadcast retention disabled")
		return nil
	}
	spec := r.cfg.Schedule
	if spec == "" {
		spec = "0 3 * * *"
	}
	r.cr = cron.New()
	if _, err := r.cr.AddFunc(spec, r.runOnce); err != nil {
		return err
	}
	r.cr.Start()
	r.log.Info("broadcast retention enabled",
		logx.String("schedule", spec),
		logx.Duration("max_age", r.cfg.MaxAge),
	)
	return nil
}

func (r *Retention) Stop() {
	if r.cr != nil {
		<-r.cr.Stop().Done()
		r.cr = nil
	}
}

func (r *Retention) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-r.cfg.MaxAge)
	n, err := r.store.PruneBroadcasts(ctx, cutoff)
	if err != nil {
		r.log.Warn("broadcast prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		r.log.Info("broadcast records pruned", logx.Int64("removed", n), logx.Time("cutoff", cutoff))
	}
}
