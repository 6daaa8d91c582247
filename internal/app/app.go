// Package app wires the process together: config, logging, registry,
// transport adapter, and the event dispatch loop.
package app

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"relaybot/internal/bot"
	"relaybot/internal/broadcast"
	"relaybot/internal/config"
	"relaybot/internal/registry"
	kit "relaybot/internal/transport"
	"relaybot/internal/transport/telegram"
	"relaybot/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log  logx.Logger
	logs *logx.Service

	store     registry.Store
	adapter   kit.Adapter
	fanout    *broadcast.Service
	sessions  *bot.Sessions
	router    *bot.Router
	retention *registry.Retention

	updates chan kit.Update

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLoggingConfig(cfg.Logging))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	token := strings.TrimSpace(cfg.Telegram.Token)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	}
	if token == "" {
		_ = logs.Close()
		return nil, errors.New("telegram token is not set (config telegram.token or BOT_TOKEN env)")
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = logs.Close()
		return nil, err
	}

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	storePath := strings.TrimSpace(cfg.Storage.Path)
	if storePath == "" {
		storePath = "./relaybot.db"
	}
	store, err := registry.Open(registry.Config{
		Path:        storePath,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "registry")))
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	log.Info("registry opened", logx.String("path", storePath))

	fanout := broadcast.New(broadcast.Config{
		Workers:    cfg.Broadcast.Workers,
		RatePerSec: cfg.Broadcast.RatePerSec,
	}, adapter, log.With(logx.String("comp", "broadcast")))

	sessionTTL, err := config.ParseDurationOrDefault("sessions.ttl", cfg.Sessions.TTL, 30*time.Minute)
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}
	sessions := bot.NewSessions(sessionTTL, log.With(logx.String("comp", "sessions")))

	router := bot.NewRouter(store, adapter, fanout, sessions, log.With(logx.String("comp", "bot")))

	retentionAge, err := config.ParseDurationOrDefault("retention.max_age", cfg.Retention.MaxAge, 0)
	if err != nil {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}
	retention := registry.NewRetention(registry.RetentionConfig{
		MaxAge:   retentionAge,
		Schedule: cfg.Retention.Schedule,
	}, store, log.With(logx.String("comp", "retention")))

	return &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logs,
		store:     store,
		adapter:   adapter,
		fanout:    fanout,
		sessions:  sessions,
		router:    router,
		retention: retention,
		updates:   make(chan kit.Update, 256),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		cancel()
		return err
	}
	if err := a.retention.Start(); err != nil {
		cancel()
		return err
	}

	// Inbound events are processed one at a time to completion; registry and
	// session accesses are serialized here, not by locks in the handlers.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.dispatchLoop(runCtx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.sessions.Sweep(runCtx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.applyConfigUpdates(runCtx)
	}()

	// Best-effort readiness for systemd deployments; a no-op elsewhere.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("started")
	return nil
}

func (a *App) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-a.updates:
			a.router.Handle(ctx, up)
		}
	}
}

// applyConfigUpdates applies the live-reloadable config sections. Telegram
// token and storage path changes need a restart and are called out in logs.
func (a *App) applyConfigUpdates(ctx context.Context) {
	sub := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok || cfg == nil {
				return
			}
			a.logs.Apply(mapLoggingConfig(cfg.Logging))
			a.fanout.Apply(broadcast.Config{
				Workers:    cfg.Broadcast.Workers,
				RatePerSec: cfg.Broadcast.RatePerSec,
			})
			a.log.Info("live config applied",
				logx.String("level", cfg.Logging.Level),
				logx.Int("broadcast_workers", cfg.Broadcast.Workers),
			)
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if a.cancel != nil {
		a.cancel()
	}
	a.retention.Stop()
	_ = a.adapter.Stop(ctx)

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	err := a.store.Close()
	a.log.Info("stopped")
	_ = a.logs.Close()
	return err
}

func mapLoggingConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
	}
}
