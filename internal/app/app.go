// Package app wires the daemon together: config, logging, storage, the
// catalog source, Telegram delivery, the polling scheduler and diagnostics.
// Startup is supervised; shutdown runs in bounded steps.
package app

import (
	"context"
	"strings"

	logx "prijswacht/pkg/logx"
	"prijswacht/pkg/systemd"

	"prijswacht/internal/config"
	"prijswacht/internal/notify"
	"prijswacht/internal/observability/diag"
	"prijswacht/internal/runtime/supervisor"
	"prijswacht/internal/scheduler"
	"prijswacht/internal/source"
	"prijswacht/internal/storage"
	"prijswacht/internal/transport/telegram"
)

type App struct {
	cfgPath string
	cfgm    *config.ConfigManager
	sup     *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store *storage.Store
	audit *storage.AuditWorker

	sources *source.Registry
	sender  *telegram.Sender
	disp    *notify.Dispatcher

	sched  *scheduler.Service
	retune *scheduler.Retune
	diag   *diag.Service

	pollerEnabled bool
	retuneEnabled bool
}

// New loads the config file and constructs every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("component", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("component", "storage")))
	if err != nil {
		return nil, err
	}

	audit := storage.NewAuditWorker(store, auditQueueSize(cfg), log)

	ss, err := mapSourceConfig(cfg)
	if err != nil {
		return nil, err
	}
	srcLog := log.With(logx.String("component", "source"))
	client := source.NewClient(ss.timeout, ss.retryMax, srcLog)
	sources := source.NewRegistry(source.NewLidl(client, ss.baseURL, srcLog))

	tc, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	sender, err := telegram.New(tc, log.With(logx.String("component", "telegram")))
	if err != nil {
		return nil, err
	}

	disp := notify.NewDispatcher(store, sender, notifyRate(cfg), log)

	pc, err := mapPollerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(pc, store, sources, disp, audit, log)

	rc, retuneEnabled, err := mapRetuneConfig(cfg)
	if err != nil {
		return nil, err
	}
	retune := scheduler.NewRetune(rc, store, log)

	dc, err := mapDiagConfig(cfg)
	if err != nil {
		return nil, err
	}
	dg := diag.New(dc, log.With(logx.String("component", "diag")))

	return &App{
		cfgPath:       cfgPath,
		cfgm:          cfgm,
		log:           log,
		logs:          logSvc,
		store:         store,
		audit:         audit,
		sources:       sources,
		sender:        sender,
		disp:          disp,
		sched:         sched,
		retune:        retune,
		diag:          dg,
		pollerEnabled: cfg.Poller.Enabled,
		retuneEnabled: retuneEnabled,
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or
// Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)

	// Reject bad configs before they are committed or published.
	a.cfgm.SetLogger(a.log.With(logx.String("component", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	// Diagnostics first so profiling covers the rest of startup.
	a.diag.SetSnapshotter(a.sup.Snapshot)
	if a.diag.Enabled() {
		a.diag.Start(a.sup.Context())
	}

	if a.pollerEnabled {
		a.sup.GoRestart("poller.loop", a.sched.Run,
			supervisor.WithPublishFirstError(true),
		)
	} else {
		a.log.Warn("poller disabled; no queries will run")
	}

	if a.retuneEnabled {
		if err := a.retune.Start(a.sup.Context()); err != nil {
			return err
		}
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sup.Go0("systemd.watchdog", func(c context.Context) { systemd.WatchdogLoop(c, a.log) })
	systemd.NotifyReady()
	systemd.NotifyStatus("watching catalog queries")

	a.log.Info("app started")
	return nil
}

// reloadLoop applies published config updates. Live: logging, poller cadence,
// delivery rate, diagnostics. Everything else warns that a restart is needed.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			a.applyReload(ctx, newCfg, sections)
			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

func (a *App) applyReload(ctx context.Context, cfg *config.Config, sections []string) {
	changed := func(name string) bool {
		for _, s := range sections {
			if s == name {
				return true
			}
		}
		return false
	}

	for _, s := range sections {
		switch s {
		case "storage", "telegram", "source", "audit", "retune":
			a.log.Warn("config change needs a restart to take effect", logx.String("section", s))
		}
	}

	if changed("logging") {
		a.logs.Apply(mapLoggingConfig(cfg))
	}

	if changed("poller") {
		if pc, err := mapPollerConfig(cfg); err != nil {
			a.log.Warn("invalid poller config; keeping previous", logx.Err(err))
		} else {
			a.sched.Apply(pc)
		}
		if cfg.Poller.Enabled != a.pollerEnabled {
			a.log.Warn("poller enable/disable needs a restart to take effect")
		}
	}

	if changed("notify") {
		a.disp.SetRate(notifyRate(cfg))
	}

	// Reconfigure is cheap when nothing relevant changed, and it re-applies
	// the runtime profiling rates, so run it every time.
	if dc, err := mapDiagConfig(cfg); err != nil {
		a.log.Warn("invalid diag config; keeping previous", logx.Err(err))
	} else {
		a.diag.Reconfigure(ctx, dc)
	}
}
