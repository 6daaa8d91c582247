// Package broadcast fans one message out to a list of recipients with
// bounded concurrency and rate limiting.
//
// Delivery is best-effort and at-most-once: every recipient gets exactly one
// send attempt, failures are logged and counted but never retried and never
// abort the run.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	kit "relaybot/internal/transport"
	"relaybot/pkg/logx"
)

// Sender is the outbound send primitive; transport.Adapter satisfies it.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type Config struct {
	Workers    int // concurrent sends; default 4
	RatePerSec int // global send rate; default 25
}

// Outcome is the result of one recipient's delivery attempt.
type Outcome struct {
	UserID int64
	Err    error
}

// Report summarizes one fan-out run.
type Report struct {
	Total  int
	Sent   int
	Failed int
	Took   time.Duration
}

type Service struct {
	mu      sync.Mutex
	cfg     Config
	sender  Sender
	log     logx.Logger
	limiter *rate.Limiter
}

func New(cfg Config, sender Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, log: log}
	s.Apply(cfg)
	return s
}

// Apply updates tuning at runtime. Safe to call concurrently with Run.
func (s *Service) Apply(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 25
	}
	s.mu.Lock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.mu.Unlock()
}

// Run attempts one delivery per recipient and blocks until the whole list
// has been attempted. A cancelled ctx turns remaining attempts into
// failures; it does not abort the accounting.
func (s *Service) Run(ctx context.Context, recipients []int64, text string, opt *kit.SendOptions) Report {
	start := time.Now()
	runID := uuid.NewString()
	log := s.log.With(logx.String("run", runID))

	s.mu.Lock()
	workers := s.cfg.Workers
	limiter := s.limiter
	sender := s.sender
	s.mu.Unlock()

	if workers > len(recipients) {
		workers = len(recipients)
	}

	log.Info("fan-out started", logx.Int("recipients", len(recipients)), logx.Int("workers", workers))

	outcomes := make([]Outcome, len(recipients))
	if len(recipients) > 0 {
		var (
			wg   sync.WaitGroup
			next = make(chan int)
		)
		wg.Add(workers)
		for w := 0; w < workers; w++ {
			go func() {
				defer wg.Done()
				for i := range next {
					outcomes[i] = s.sendOne(ctx, sender, limiter, recipients[i], text, opt)
				}
			}()
		}
		for i := range recipients {
			next <- i
		}
		close(next)
		wg.Wait()
	}

	rep := fold(outcomes)
	rep.Took = time.Since(start)
	for _, o := range outcomes {
		if o.Err != nil {
			log.Warn("delivery failed", logx.Int64("user_id", o.UserID), logx.Err(o.Err))
		}
	}
	if rep.Failed > 0 {
		log.Warn("fan-out finished with failures",
			logx.Int("total", rep.Total), logx.Int("sent", rep.Sent),
			logx.Int("failed", rep.Failed), logx.Duration("took", rep.Took),
		)
	} else {
		log.Info("fan-out finished",
			logx.Int("total", rep.Total), logx.Int("sent", rep.Sent), logx.Duration("took", rep.Took),
		)
	}
	return rep
}

func (s *Service) sendOne(ctx context.Context, sender Sender, limiter *rate.Limiter, userID int64, text string, opt *kit.SendOptions) Outcome {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return Outcome{UserID: userID, Err: err}
		}
	}
	_, err := sender.SendText(ctx, kit.ChatTarget{ChatID: userID}, text, opt)
	return Outcome{UserID: userID, Err: err}
}

func fold(outcomes []Outcome) Report {
	rep := Report{Total: len(outcomes)}
	for _, o := range outcomes {
		if o.Err != nil {
			rep.Failed++
		} else {
			rep.Sent++
		}
	}
	return rep
}
