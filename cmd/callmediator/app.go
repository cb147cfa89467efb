package main

import (
	"context"
	"sort"

	"github.com/hamzaKhattat/call-mediator/internal/audio"
	"github.com/hamzaKhattat/call-mediator/internal/call"
	"github.com/hamzaKhattat/call-mediator/internal/config"
	"github.com/hamzaKhattat/call-mediator/internal/filter"
	"github.com/hamzaKhattat/call-mediator/internal/metrics"
	"github.com/hamzaKhattat/call-mediator/internal/orchestrator"
	"github.com/hamzaKhattat/call-mediator/internal/provider"
	"github.com/hamzaKhattat/call-mediator/internal/store"
	"github.com/hamzaKhattat/call-mediator/pkg/logger"
)

// app is one fully wired mediator: orchestrator, audio, providers and the
// optional store.
type app struct {
	cfg       *config.Config
	orch      *orchestrator.Orchestrator
	audio     *audio.Machine
	hardware  *audio.MemoryHardware
	metrics   *metrics.PrometheusMetrics
	providers map[string]*provider.Loopback

	database *store.DB
	cache    *store.Cache
	blocked  *store.BlockedNumbers
	callLog  *store.CallLog
}

// defaultAccounts are used when the configuration lists none.
func defaultAccounts() []call.Account {
	return []call.Account{
		{
			Handle:               call.AccountHandle{Provider: "sim", ID: "1"},
			Label:                "SIM 1",
			EmergencyCapable:     true,
			SupportsHandoverFrom: true,
			Priority:             1,
		},
		{
			Handle:             call.AccountHandle{Provider: "voip", ID: "app"},
			Label:              "VoIP",
			SelfManaged:        true,
			SupportsVideo:      true,
			SupportsHandoverTo: true,
		},
	}
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if len(cfg.Accounts) == 0 {
		cfg.Accounts = defaultAccounts()
		if cfg.Orchestrator.DefaultAccount == "" {
			cfg.Orchestrator.DefaultAccount = "sim/1"
		}
	}
	accounts, err := cfg.NewAccounts()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		metrics:   metrics.NewPrometheusMetrics(nil),
		hardware:  audio.NewMemoryHardware(),
		providers: make(map[string]*provider.Loopback),
	}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	var notifier orchestrator.Notifier = orchestrator.LogNotifier{}
	if a.callLog != nil {
		notifier = orchestrator.NotifierFunc(func(id call.ID, event string, fields map[string]interface{}) {
			orchestrator.LogNotifier{}.Notify(id, event, fields)
			a.callLog.Notify(id, event, fields)
		})
	}

	// The machine reports back to the orchestrator, which is built after it.
	a.audio = audio.New(cfg.AudioOptions(), a.hardware, audio.ListenerFunc(func(old, new audio.Config) {
		a.orch.OnAudioConfigChanged(old, new)
	}))

	a.orch = orchestrator.New(cfg.OrchestratorConfig(), orchestrator.Deps{
		Accounts: accounts,
		Filters:  a.filters(),
		Notifier: notifier,
		Metrics:  a.metrics,
		Audio:    a.audio,
	})
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	if !a.cfg.Store.Enabled {
		return nil
	}
	database, err := store.Open(ctx, a.cfg.StoreConfig())
	if err != nil {
		return err
	}
	a.database = database

	if a.cfg.Store.Migrate {
		if err := store.RunMigrations(database.DB); err != nil {
			database.Close()
			return err
		}
	}

	a.cache = store.NoopCache()
	if a.cfg.Redis.Enabled {
		cache, err := store.NewCache(ctx, a.cfg.CacheConfig(), a.cfg.Redis.Prefix)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, continuing without cache")
		} else {
			a.cache = cache
		}
	}

	a.blocked = store.NewBlockedNumbers(database.DB, a.cache, a.cfg.Filter.CacheTTL)
	if a.cfg.Store.CallLog {
		a.callLog = store.NewCallLog(database.DB, a.cfg.Store.CallLogBuffer)
	}
	return nil
}

func (a *app) filters() *filter.Pipeline {
	p := filter.NewPipeline()

	var lists filter.AnyBlocked
	if len(a.cfg.Filter.BlockedNumbers) > 0 {
		lists = append(lists, filter.NewStaticNumbers(a.cfg.Filter.BlockedNumbers...))
	}
	if a.blocked != nil {
		lists = append(lists, a.blocked)
	}
	if len(lists) > 0 {
		p.Add(&filter.BlockedNumberFilter{Numbers: lists})
	}
	if a.cfg.Filter.BlockRestricted || a.cfg.Filter.BlockUnknown {
		p.Add(&filter.RestrictedHandleFilter{
			BlockRestricted: a.cfg.Filter.BlockRestricted,
			BlockUnknown:    a.cfg.Filter.BlockUnknown,
		})
	}
	return p
}

// start brings everything up and registers one loopback binding per
// configured provider.
func (a *app) start(ctx context.Context, lb provider.Options) error {
	a.orch.Start()
	a.audio.Start()

	if err := a.orch.AddListener(ctx, metrics.NewCallListener(a.metrics)); err != nil {
		return err
	}

	for _, name := range a.providerNames() {
		b := provider.NewLoopback(name, a.orch, lb)
		b.Start()
		a.providers[name] = b
		if err := a.orch.RegisterBinding(ctx, name, b); err != nil {
			return err
		}
		logger.WithField("provider", name).Info("Provider binding registered")
	}
	return nil
}

func (a *app) providerNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, acct := range a.cfg.Accounts {
		if !seen[acct.Handle.Provider] {
			seen[acct.Handle.Provider] = true
			names = append(names, acct.Handle.Provider)
		}
	}
	sort.Strings(names)
	return names
}

func (a *app) stop() {
	a.orch.Stop()
	for _, b := range a.providers {
		b.Stop()
	}
	a.audio.Stop()
	if a.callLog != nil {
		a.callLog.Close()
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if a.database != nil {
		a.database.Close()
	}
}
