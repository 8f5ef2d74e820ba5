package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/coreos/go-systemd/v22/daemon"

	"pefsched/internal/cache"
	"pefsched/internal/config"
	"pefsched/internal/ics"
	appLog "pefsched/internal/log"
	"pefsched/internal/schedule"
	"pefsched/internal/scheduler"
	"pefsched/internal/store/sqlite"
	"pefsched/internal/web"
)

const version = "0.3.0"

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	debug      bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.Configure(os.Stderr, conf.Log.Format, logLevel(flags, conf))
	appLog.Info("pefsched starting", "version", version)

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"database", conf.DatabasePath,
		"cache", conf.Cache.Backend,
		"ics_count", len(conf.ICS),
		"cron_rebuild", conf.Cron.Rebuild,
		"cron_ics_sync", conf.Cron.ICSSync,
		"once", flags.once,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, flags, conf); err != nil {
		appLog.Error("pefsched failed", err)
		os.Exit(1)
	}
	appLog.Info("pefsched exiting")
}

func run(ctx context.Context, flags flagConfig, conf *config.Config) error {
	store, err := sqlite.Open(conf.DatabasePath, conf.Location())
	if err != nil {
		return err
	}
	defer store.Close()

	respCache, err := cache.New(conf.Cache)
	if err != nil {
		return err
	}
	if closer, ok := respCache.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	svc := schedule.NewService(store, serviceOptions(conf))
	sched := scheduler.New(scheduler.Deps{
		Store:    store,
		Importer: svc,
		Fetcher:  ics.NewFetcher(conf.ICSCacheDir),
		Cache:    respCache,
		Location: conf.Location(),
	})
	sched.SetSources(scheduler.SourcesFromConfig(conf.ICS))

	if flags.once {
		return sched.RunOnce(ctx)
	}

	srv := web.NewServer(web.Options{
		Config:     conf,
		ConfigPath: flags.configPath,
		Service:    svc,
		Cache:      respCache,
		Debug:      flags.debug,
		OnConfigChange: func(next *config.Config) {
			svc.SetOptions(serviceOptions(next))
		},
	})

	// Hot reload: settings edits, feed changes and the site timezone apply
	// without a restart. Listen, database, cache backend and the cron
	// schedule timezone still need one.
	go func() {
		err := config.Watch(ctx, flags.configPath, func(next *config.Config) {
			appLog.Configure(os.Stderr, next.Log.Format, logLevel(flags, next))
			if _, err := store.SetLocation(ctx, next.Location()); err != nil {
				appLog.Error("repeat rebuild after timezone change failed", err, "timezone", next.Timezone)
			}
			svc.SetOptions(serviceOptions(next))
			srv.SetConfig(next)
			sched.SetSources(scheduler.SourcesFromConfig(next.ICS))
			if err := respCache.Invalidate(ctx); err != nil {
				appLog.Warn("cache invalidate failed", "err", err.Error())
			}
		})
		if err != nil {
			appLog.Error("config watcher stopped", err, "path", flags.configPath)
		}
	}()

	if err := sched.Start(conf.Cron); err != nil {
		return err
	}
	defer func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
		defer stop()
		sched.Stop(stopCtx)
	}()

	return srv.Serve(ctx, conf.Listen, func() {
		if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
			appLog.Warn("sd_notify failed", "err", err.Error())
		} else if ok {
			appLog.Debug("notified systemd")
		}
	})
}

// logLevel lets -debug win over the configured level.
func logLevel(flags flagConfig, conf *config.Config) appLog.Level {
	if flags.debug {
		return appLog.LevelDebug
	}
	return appLog.ParseLevel(conf.Log.Level)
}

func serviceOptions(conf *config.Config) schedule.Options {
	return schedule.Options{
		Location:             conf.Location(),
		DefaultColor:         conf.DefaultColor,
		ClassPathPrefix:      conf.ClassPathPrefix,
		WarnRows:             conf.Limits.WarnRows,
		MaxRows:              conf.Limits.MaxRows,
		MaxOccurrencesPerRow: conf.Limits.MaxOccurrencesPerRow,
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/pefsched/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Rebuild repeat rows and sync ICS feeds once, then exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging and gin debug mode")

	flag.Parse()

	return cfg
}
