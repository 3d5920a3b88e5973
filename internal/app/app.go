// Package app wires the daemon together: config, logging, storage, the alarm
// registrar, the reminder scheduler, delivery, and the HTTP API.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"medicared/internal/api"
	"medicared/internal/config"
	"medicared/internal/eventbus"
	"medicared/internal/medicine"
	"medicared/internal/medinfo"
	"medicared/internal/notify"
	"medicared/internal/registrar"
	"medicared/internal/reminders"
	"medicared/internal/storage"
	"medicared/internal/transport"
	"medicared/internal/transport/telegram"
	logx "medicared/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.ConfigManager

	log  logx.Logger
	logs *logx.Service

	bus   eventbus.Bus
	store storage.Store
	loc   *time.Location

	adapter  *telegram.Adapter // nil when no token is configured
	reg      *registrar.Service
	delivery *notify.Service
	sched    *reminders.Scheduler
	resync   *reminders.Resync // nil when resync is disabled
	apiSrv   *api.Server
	info     *medinfo.Client // nil when medinfo is disabled

	runMu     sync.Mutex
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
}

func NewApp(cfgPath string) (*App, error) {
	a := &App{cfgPath: cfgPath}
	a.cfgm = config.NewConfigManager(cfgPath)

	cfg, err := a.cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	a.logs, a.log = logx.New(mapLogging(cfg))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.bus = eventbus.New()

	a.loc, err = loadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	storeCfg, err := mapStorage(cfg)
	if err != nil {
		return nil, err
	}
	a.store, err = storage.Open(storeCfg, a.log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	if mcfg, ok, err := mapMedinfo(cfg); err != nil {
		return nil, err
	} else if ok {
		a.info = medinfo.NewClient(mcfg, a.log.With(logx.String("comp", "medinfo")))
	}

	regCfg, err := mapAlarms(cfg)
	if err != nil {
		return nil, err
	}
	a.reg = registrar.New(regCfg, a.log.With(logx.String("comp", "registrar")), a.bus)

	a.sched = reminders.NewScheduler(a.log.With(logx.String("comp", "reminders")), a.reg, a.store, a.loc)
	a.reg.SetHandler(a.sched.HandleFired)

	apiCfg, err := mapAPI(cfg)
	if err != nil {
		return nil, err
	}
	var drugInfo api.DrugInfo
	if a.info != nil {
		drugInfo = a.info
	}
	a.apiSrv = api.NewServer(apiCfg, a.log.With(logx.String("comp", "api")), a.store, a.sched, a.reg, drugInfo)

	if tcfg, ok, err := mapTelegram(cfg); err != nil {
		return nil, err
	} else if ok {
		a.adapter, err = telegram.New(tcfg, a.log.With(logx.String("comp", "telegram")), a.apiSrv.ResolveLinkCode)
		if err != nil {
			return nil, fmt.Errorf("telegram adapter: %w", err)
		}
	}

	delivCfg, err := mapDelivery(cfg)
	if err != nil {
		return nil, err
	}
	var adapter transport.Adapter
	if a.adapter != nil {
		adapter = a.adapter
	}
	a.delivery = notify.New(delivCfg, adapter, a.log.With(logx.String("comp", "notify")), a.bus)
	a.sched.SetDeliver(a.deliverReminder)

	if spec, enabled := mapResyncSpec(cfg); enabled {
		a.resync = reminders.NewResync(a.log.With(logx.String("comp", "resync")), a.sched, spec, a.loc)
	}

	return a, nil
}

// deliverReminder bridges a fired alarm into the delivery pipeline. The
// user's linked chat is resolved at fire time so a chat linked after
// scheduling still receives reminders.
func (a *App) deliverReminder(ctx context.Context, m medicine.Medicine, p registrar.Payload) error {
	var chat transport.ChatTarget
	u, err := a.store.UserByID(ctx, m.UserID)
	if err != nil {
		a.log.Warn("reminder for unknown user", logx.Int64("user_id", m.UserID), logx.Err(err))
	} else {
		chat.ChatID = u.TelegramChatID
	}
	return a.delivery.Deliver(ctx, notify.Reminder{
		UserID:     m.UserID,
		MedicineID: m.ID,
		Slot:       p.Slot,
		Name:       m.Name,
		Dosage:     m.Dosage,
		Time:       p.Time,
		Chat:       chat,
	})
}

func (a *App) Start(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.runCancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel

	a.cfgm.SetValidator(a.validateConfig)

	a.reg.Start(runCtx)
	a.delivery.Start(runCtx)
	if a.adapter != nil {
		if err := a.adapter.Start(runCtx); err != nil {
			a.log.Warn("telegram start failed; reminders fall back to the log", logx.Err(err))
		}
	}
	if err := a.apiSrv.Start(runCtx); err != nil {
		cancel()
		a.runCancel = nil
		return fmt.Errorf("api start: %w", err)
	}

	// Rebuild every alarm from storage; registrations do not survive restarts.
	if err := a.sched.RescheduleEveryone(runCtx); err != nil {
		a.log.Warn("startup reschedule finished with failures", logx.Err(err))
	}

	if a.resync != nil {
		if err := a.resync.Start(runCtx); err != nil {
			a.log.Warn("resync start failed", logx.Err(err))
		}
	}

	// Surface alarm.* / notify.* bus events in the debug log.
	events, unsub := a.bus.Subscribe(128)
	a.runWG.Add(1)
	go func() {
		defer a.runWG.Done()
		defer unsub()
		for {
			select {
			case <-runCtx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	}()

	a.runWG.Add(1)
	go func() {
		defer a.runWG.Done()
		_ = a.cfgm.Watch(runCtx)
	}()

	sub := a.cfgm.Subscribe(8)
	a.runWG.Add(1)
	go func() {
		defer a.runWG.Done()
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(runCtx, sub)
	}()

	a.log.Info("medicared started",
		logx.String("config", a.cfgPath),
		logx.String("tz", a.loc.String()),
		logx.Bool("telegram", a.adapter != nil),
		logx.String("api", a.apiSrv.Addr()),
	)
	return nil
}

func (a *App) Stop(ctx context.Context) {
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	a.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	if a.resync != nil {
		a.resync.Stop()
	}
	a.apiSrv.Stop(ctx)
	if a.adapter != nil {
		_ = a.adapter.Stop(ctx)
	}
	a.delivery.Stop(ctx)
	a.reg.Stop(ctx)

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	a.log.Info("medicared stopped")
	_ = a.logs.Close()
}

// validateConfig gates hot reloads: a config that fails to map is rejected
// before anything is applied.
func (a *App) validateConfig(ctx context.Context, cfg *config.Config) error {
	if _, err := loadLocation(cfg.Timezone); err != nil {
		return err
	}
	if _, err := mapStorage(cfg); err != nil {
		return err
	}
	if _, err := mapAlarms(cfg); err != nil {
		return err
	}
	if _, err := mapDelivery(cfg); err != nil {
		return err
	}
	if _, err := mapAPI(cfg); err != nil {
		return err
	}
	if _, _, err := mapMedinfo(cfg); err != nil {
		return err
	}
	if _, _, err := mapTelegram(cfg); err != nil {
		return err
	}
	return nil
}

// reloadLoop applies committed config updates to the running services. Only
// logging, alarms, and delivery reload live; storage, telegram, api, and
// timezone changes need a restart and are logged as such.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
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
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config change summary", fields...)
			lastApplied = newCfg

			for _, s := range sections {
				switch s {
				case "storage", "telegram", "api", "timezone", "resync", "medinfo":
					a.log.Warn("config section changed; restart required for changes to take effect",
						logx.String("section", s))
				}
			}

			// Logging first so subsequent applies log at the new level.
			a.logs.Apply(mapLogging(newCfg))

			if regCfg, err := mapAlarms(newCfg); err != nil {
				a.log.Warn("invalid alarms config; keeping previous", logx.Err(err))
			} else {
				a.reg.Apply(regCfg)
			}

			if delivCfg, err := mapDelivery(newCfg); err != nil {
				a.log.Warn("invalid delivery config; keeping previous", logx.Err(err))
			} else {
				wasEnabled := a.delivery.Enabled()
				a.delivery.Apply(delivCfg)
				if !wasEnabled && delivCfg.Enabled {
					a.delivery.Start(ctx)
				} else if wasEnabled && !delivCfg.Enabled {
					stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
					a.delivery.Stop(stopCtx)
					cancel()
				}
			}
		}
	}
}
