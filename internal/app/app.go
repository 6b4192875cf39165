package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"tipbot/internal/commands"
	"tipbot/internal/config"
	"tipbot/internal/eventbus"
	"tipbot/internal/runtime/supervisor"
	"tipbot/internal/storage"
	"tipbot/internal/tipsched"
	kit "tipbot/internal/transport"
	telegram "tipbot/internal/transport/telegram/adapter"
	"tipbot/internal/transport/telegram/router"
	logx "tipbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	router  *router.Router
	cell    *tipsched.Cell

	startedAt time.Time
	updates   chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.Telegram.ResolvedPollTimeout(),
	}, bootLog)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.Logging.Logx(), ad)
	if to, ok, _ := cfg.Telegram.LogTarget(cfg.Logging.Telegram.ThreadID); ok {
		logSvc.SetChatTarget(to)
	}
	log = log.With(logx.String("comp", "app"))

	sc, err := cfg.Storage.Resolve()
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	r := router.New(log, ad, cfg.Telegram.OwnerUserIDs)

	return &App{
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		bus:       eventbus.New(),
		store:     store,
		adapter:   ad,
		router:    r,
		startedAt: time.Now(),
		updates:   make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	cfg := a.cfgm.Get()
	settings, err := tipSettings(cfg)
	if err != nil {
		return err
	}
	a.cell = tipsched.NewCell(a.sup.Context(),
		tipsched.WithLogger(a.log.With(logx.String("comp", "tipsched"))),
		tipsched.WithBus(a.bus),
		tipsched.WithSettings(settings),
	)

	a.router.SetRegistry(commands.All(commands.Deps{
		Store:     a.store,
		Cell:      a.cell,
		Sink:      a.adapter,
		StartedAt: a.startedAt,
	}))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, next *config.Config) error {
		cur := a.cfgm.Get()
		if cur != nil && len(cur.Telegram.OwnerUserIDs) > 0 && len(next.Telegram.OwnerUserIDs) == 0 {
			return errors.New("telegram.owner_user_ids cannot be emptied by a reload")
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	menuCtx, cancel := context.WithTimeout(a.sup.Context(), 10*time.Second)
	if err := a.adapter.UpdateMenuCommands(menuCtx, a.router.MenuCommands()); err != nil {
		a.log.Warn("bot menu update failed", logx.Err(err))
	}
	cancel()

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128, "tips.")
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time)}
				if fe, ok := e.Data.(tipsched.FireEvent); ok {
					fields = append(fields, logx.Int64("target_chat", fe.ChatID), logx.Int64("tip_id", fe.TipID))
					if fe.Err != "" {
						fields = append(fields, logx.String("cause", fe.Err))
					}
				}
				a.log.Debug("event", fields...)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified", logx.String("state", "ready"))
	}

	a.log.Info("app started", logx.Int("commands", len(a.router.MenuCommands())))
	return nil
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range config.RequiresRestart(sections, oldCfg, newCfg) {
		a.log.Warn("config change needs a restart to take effect", logx.String("section", s))
	}

	if to, ok, _ := newCfg.Telegram.LogTarget(newCfg.Logging.Telegram.ThreadID); ok {
		a.logs.SetChatTarget(to)
	} else {
		a.logs.SetChatTarget(kit.ChatTarget{})
	}
	a.logs.Apply(newCfg.Logging.Logx())

	a.router.SetOwners(newCfg.Telegram.OwnerUserIDs)

	if settings, err := tipSettings(newCfg); err != nil {
		a.log.Warn("invalid tips config; keeping previous", logx.Err(err))
	} else {
		a.cell.ApplySettings(settings)
		if a.cell.IsRunning() {
			a.log.Info("tips settings updated; they apply on the next /scheduler start")
		}
	}

	a.log.Info("config reloaded", fields...)
}

func tipSettings(cfg *config.Config) (tipsched.Settings, error) {
	loc, poll, send, err := cfg.Tips.Resolve()
	if err != nil {
		return tipsched.Settings{}, err
	}
	return tipsched.Settings{Location: loc, PollInterval: poll, SendTimeout: send}, nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.sup.Cancel()

	// Each step gets its own bound so one component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
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
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("tipsched", 2*time.Second, func(c context.Context) error {
		if a.cell == nil {
			return nil
		}
		return a.cell.Shutdown(c)
	})
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })

	if n := a.bus.Dropped(); n > 0 {
		a.log.Info("event bus drops", logx.Int64("dropped", int64(n)))
	}
	a.log.Info("stopped")
	return a.logs.Close()
}
