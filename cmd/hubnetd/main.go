package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sys/unix"

	"github.com/HerbHall/hubnet/internal/acquire"
	"github.com/HerbHall/hubnet/internal/api"
	"github.com/HerbHall/hubnet/internal/arbiter"
	"github.com/HerbHall/hubnet/internal/config"
	"github.com/HerbHall/hubnet/internal/discovery"
	"github.com/HerbHall/hubnet/internal/hotspot"
	"github.com/HerbHall/hubnet/internal/inspect"
	"github.com/HerbHall/hubnet/internal/metrics"
	"github.com/HerbHall/hubnet/internal/mode"
	"github.com/HerbHall/hubnet/internal/monitor"
	"github.com/HerbHall/hubnet/internal/netwatch"
	"github.com/HerbHall/hubnet/internal/runner"
	"github.com/HerbHall/hubnet/internal/state"
	"github.com/HerbHall/hubnet/internal/status"
	"github.com/HerbHall/hubnet/internal/store"
	"github.com/HerbHall/hubnet/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "state":
			runState(os.Args[2:])
			return
		case "reset":
			runReset(os.Args[2:])
			return
		case "backup":
			runBackup(os.Args[2:])
			return
		case "restore":
			runRestore(os.Args[2:])
			return
		case "version":
			fmt.Println(version.Info())
			return
		}
	}

	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	v, err := config.NewViper(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hubnetd: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Decode(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hubnetd: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(config.New(v).GetString("logging.level"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "hubnetd: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("hubnetd starting", zap.String("version", version.Short()))
	if err := run(cfg, logger); err != nil {
		logger.Error("hubnetd failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("hubnetd stopped")
}

// newLogger returns a production logger at level, or a development logger
// for "debug".
func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()

	apPrefix, err := netip.ParsePrefix(cfg.Hotspot.Address)
	if err != nil {
		return fmt.Errorf("hotspot.address: %w", err)
	}

	db, err := store.New(cfg.State.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	profiles, shared, err := state.NewRepositories(ctx, db)
	if err != nil {
		return err
	}

	exec := runner.NewExec(logger.Named("runner"))
	insp := inspect.New(exec, logger.Named("inspect"),
		inspect.WithIgnoredAddress(apPrefix.Addr()),
		inspect.WithSSIDReader(inspect.NL80211{}),
	)
	strategies, err := acquire.Strategies(cfg.Connect.LeaseStrategies, exec, cfg.Connect.LeaseToolTimeout, logger.Named("lease"))
	if err != nil {
		return err
	}
	prober := acquire.NewICMPProber(cfg.Connect.ProbeTimeout, 2)

	acqCfg := acquire.DefaultConfig()
	acqCfg.WPAConfigPath = cfg.Paths.WPAConfig
	acqCfg.Country = cfg.Hotspot.Country
	acqCfg.ResolvConf = cfg.Paths.ResolvConf
	acqCfg.AssociationTimeout = cfg.Connect.AssociationTimeout
	acqCfg.NotFoundWindow = cfg.Connect.NotFoundWindow
	acqCfg.PollInterval = cfg.Connect.PollInterval
	acqCfg.AddressTimeout = cfg.Connect.AddressTimeout
	acqCfg.LeaseToolTimeout = cfg.Connect.LeaseToolTimeout
	acq := acquire.New(exec, insp, prober, strategies, acqCfg, logger.Named("acquire"))

	arb := arbiter.New(acq, arbiter.NewIPRouter(exec), shared, arbiter.Config{
		PreferContinuity: cfg.Arbiter.PreferContinuity,
		PrimaryMetric:    cfg.Arbiter.PrimaryMetric,
		SecondaryMetric:  cfg.Arbiter.SecondaryMetric,
	}, logger.Named("arbiter"))

	ap := hotspot.New(exec, hotspot.DetectServices(exec, logger.Named("services")), hotspot.Config{
		Iface:       cfg.Interfaces.Wireless,
		SSID:        cfg.Hotspot.SSID,
		Address:     apPrefix,
		Channel:     cfg.Hotspot.Channel,
		Country:     cfg.Hotspot.Country,
		DHCPRange:   cfg.Hotspot.DHCPRange,
		MaxStations: cfg.Hotspot.MaxSta,
		ConfigPath:  cfg.Paths.HostapdConfig,
	}, logger.Named("hotspot"))

	broadcaster := status.NewBroadcaster()
	sinks := []status.Sink{status.NewFileSink(cfg.Paths.StatusFile), broadcaster}
	if cfg.MQTT.Broker != "" {
		ms, err := status.DialMQTT(status.MQTTOptions{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
		}, logger.Named("mqtt"))
		if err != nil {
			logger.Warn("MQTT status publishing disabled", zap.Error(err))
		} else {
			defer ms.Close()
			sinks = append(sinks, ms)
		}
	}
	fanout := status.NewFanout(logger.Named("status"), sinks...)
	m := metrics.New()

	deps := mode.Deps{
		Acquirer:    acq,
		AccessPoint: ap,
		Profiles:    profiles,
		Shared:      shared,
		Sink:        fanout,
		Metrics:     m,
		Logger:      logger.Named("mode"),
	}
	if cfg.MDNS.Enabled {
		deps.Announcer = discovery.NewAnnouncer(cfg.MDNS.Instance, cfg.MDNS.Port, logger.Named("mdns"))
	}
	ctl := mode.New(mode.Config{
		Wireless:         cfg.Interfaces.Wireless,
		BootRetries:      cfg.Connect.BootRetries,
		BootBackoff:      cfg.Connect.BootBackoff,
		PreferContinuity: cfg.Arbiter.PreferContinuity,
	}, deps)

	var kick <-chan struct{}
	if cfg.Monitor.Netwatch {
		ifaces := append([]string{cfg.Interfaces.Wireless}, cfg.Interfaces.Wired...)
		w, err := netwatch.New(logger.Named("netwatch"), ifaces)
		switch {
		case errors.Is(err, netwatch.ErrUnsupported):
			logger.Info("interface event subscription unavailable, polling only")
		case err != nil:
			logger.Warn("interface event subscription failed, polling only", zap.Error(err))
		default:
			defer w.Close()
			kick = w.Events()
			go func() {
				if err := w.Run(ctx); err != nil && ctx.Err() == nil {
					logger.Warn("interface event subscription stopped", zap.Error(err))
				}
			}()
		}
	}

	mon := monitor.New(monitor.Config{
		Wireless:        cfg.Interfaces.Wireless,
		WiredCandidates: cfg.Interfaces.Wired,
		Interval:        cfg.Monitor.Interval,
		FallbackGrace:   cfg.Monitor.FallbackGrace,
		HealthInterval:  cfg.Monitor.HealthInterval,
		ListenerPattern: cfg.Monitor.ResetListenerPattern,
	}, insp, arb, prober, exec, ctl.StatusSink(), logger.Named("monitor"),
		monitor.WithKick(kick),
		monitor.WithHooks(monitor.Hooks{WithLock: ctl.WithLock, OnDecision: ctl.Observe}),
		monitor.WithMetrics(m),
	)
	ctl.AttachMonitor(mon)

	if err := writePIDFile(cfg.Paths.PIDFile); err != nil {
		logger.Warn("pid file not written", zap.String("path", cfg.Paths.PIDFile), zap.Error(err))
	} else {
		defer os.Remove(cfg.Paths.PIDFile)
	}

	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, unix.SIGUSR1)
	defer signal.Stop(usr1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-usr1:
				logger.Info("reset signal received")
				ctl.RequestReset(mode.SourceSignal)
			}
		}
	}()

	srv := api.New(api.Config{
		Addr:            cfg.HTTP.Addr,
		ConnectPerMin:   cfg.HTTP.ConnectPerMin,
		ConnectBurst:    cfg.HTTP.ConnectBurst,
		Wireless:        cfg.Interfaces.Wireless,
		WiredCandidates: cfg.Interfaces.Wired,
		StaticDefaults: api.StaticDefaults{
			Address: cfg.Static.Address,
			Gateway: cfg.Static.Gateway,
			DNS:     cfg.Static.DNS,
		},
		ScanCacheTTL:    cfg.HTTP.ScanCache,
		NetworksPerPage: cfg.HTTP.NetworksPerPage,
	}, api.Deps{
		Controller:  ctl,
		Inspector:   insp,
		Scanner:     inspect.NL80211{},
		Profiles:    profiles,
		Shared:      shared,
		Broadcaster: broadcaster,
		Metrics:     m,
		Logger:      logger.Named("api"),
	})
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Start() }()

	ctlDone := make(chan error, 1)
	go func() { ctlDone <- ctl.Run(ctx) }()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-srvErr:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}
	select {
	case <-ctlDone:
	case <-shutdownCtx.Done():
		logger.Warn("mode controller did not stop in time")
	}
	return runErr
}

func writePIDFile(path string) error {
	if path == "" {
		return errors.New("no pid file configured")
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}
