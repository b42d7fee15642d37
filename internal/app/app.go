package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"statusbot/internal/alerts"
	"statusbot/internal/bot"
	"statusbot/internal/config"
	"statusbot/internal/dispatch"
	"statusbot/internal/notify"
	"statusbot/internal/observability"
	"statusbot/internal/report"
	"statusbot/internal/runtime/supervisor"
	"statusbot/internal/storage"
	kit "statusbot/internal/transport"
	"statusbot/internal/transport/telegram"
	"statusbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	gw    kit.Gateway
	store storage.Store

	metrics *observability.Metrics
	server  *observability.Server

	dispatcher *dispatch.Dispatcher
	sched      *dispatch.Scheduler
	router     *bot.Router

	updates chan kit.Update
}

// NewApp loads the config and builds every component once. Config problems
// come back as *config.ConfigurationError.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, defaultPollTimeout)
	if err != nil {
		return nil, &config.ConfigurationError{Path: cfgPath, Err: err}
	}
	gw, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	logs, log := logx.New(mapLogConfig(cfg), gw)
	a, err := newApp(cfgm, gw, logs, log)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	if err := a.router.PublishMenu(context.Background()); err != nil {
		a.log.Warn("menu commands not published", logx.Err(err))
	}
	return a, nil
}

// newApp wires the components around an existing gateway. logs may be nil.
func newApp(cfgm *config.Manager, gw kit.Gateway, logs *logx.Service, log logx.Logger) (*App, error) {
	cfg := cfgm.Get()
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	cfgm.SetLogger(log)

	metrics := observability.NewMetrics()
	reporter := observability.Multi{observability.NewLogReporter(log), metrics}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log)
	switch {
	case errors.Is(err, storage.ErrDisabled):
		log.Warn("storage disabled; subscriptions are kept in memory and lost on restart")
		store = storage.NewMemory()
	case err != nil:
		return nil, fmt.Errorf("open storage: %w", err)
	default:
		log.Info("storage ready", logx.String("driver", sc.Driver))
	}

	a, err := assemble(cfg, gw, store, reporter, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.cfgm = cfgm
	a.logs = logs
	a.metrics = metrics
	a.server = observability.NewServer(mapMetricsConfig(cfg), metrics, log)
	return a, nil
}

// assemble builds the report sources, dispatcher, scheduler and router.
func assemble(cfg *config.Config, gw kit.Gateway, store storage.Store, reporter observability.Reporter, log logx.Logger) (*App, error) {
	client, err := newHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	rc, err := mapReportConfig(cfg)
	if err != nil {
		return nil, err
	}
	ropts := []report.Option{report.WithHTTPClient(client), report.WithLogger(log), report.WithReporter(reporter)}
	perps := report.NewAggregator(rc, ropts...)

	status := map[notify.Category]dispatch.StatusSource{}
	for c, url := range statusURLs(cfg) {
		status[c] = report.NewStatusReporter(c, url, ropts...)
	}

	evaluator := alerts.NewEvaluator(mapAlertEnvs(cfg),
		alerts.WithHTTPClient(client), alerts.WithLogger(log), alerts.WithReporter(reporter))

	reg, err := dispatch.NewRegistry(dispatch.Sources{Perps: perps, Alerts: evaluator, Status: status})
	if err != nil {
		return nil, err
	}
	dc, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	d := dispatch.New(dc, store, gw, reg,
		dispatch.WithLogger(log), dispatch.WithReporter(reporter), dispatch.WithAlertSource(evaluator))

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sched, err := dispatch.NewScheduler(schedCfg, d, log)
	if err != nil {
		return nil, err
	}

	router := bot.NewRouter(gw, log)
	bot.NewHandlers(store, gw,
		bot.WithWalletManager(status[notify.WalletManager]),
		bot.WithHandlersLogger(log),
		bot.WithReporter(reporter),
	).Install(router)

	return &App{
		log:        log.With(logx.String("comp", "app")),
		gw:         gw,
		store:      store,
		dispatcher: d,
		sched:      sched,
		router:     router,
		updates:    make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()

	if err := a.gw.Start(run, a.updates); err != nil {
		return fmt.Errorf("gateway start: %w", err)
	}
	if a.server != nil {
		a.server.Start(run)
	}
	a.sup.Go("bot.router", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})
	if err := a.sched.Start(run); err != nil {
		return err
	}

	if a.cfgm != nil {
		sub := a.cfgm.Subscribe(4)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			for {
				select {
				case <-c.Done():
					return
				case cfg, ok := <-sub:
					if !ok {
						return
					}
					if a.logs != nil {
						a.logs.Apply(mapLogConfig(cfg))
					}
				}
			}
		})
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	sdNotify(a.log, daemon.SdNotifyReady)
	fields := []logx.Field{}
	if next, ok := a.sched.Next("daily"); ok {
		fields = append(fields, logx.Time("next_daily", next))
	}
	a.log.Info("app started", fields...)
	return nil
}

// Stop shuts down in order: triggers first so an in-flight batch can finish,
// then the gateway, storage and supervised loops. Each step is bounded.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	a.step(ctx, "scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.sup.Cancel()
	a.step(ctx, "metrics", time.Second, func(c context.Context) error {
		if a.server != nil {
			a.server.Stop(c)
		}
		return nil
	})
	a.step(ctx, "gateway", 3*time.Second, a.gw.Stop)
	a.step(ctx, "supervisor", 3*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs fn with its own deadline, never past the caller's.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
