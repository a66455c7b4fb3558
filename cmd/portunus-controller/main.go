package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/BrandonDHaskell/Portunus/controller/internal/config"
	"github.com/BrandonDHaskell/Portunus/controller/internal/db"
	"github.com/BrandonDHaskell/Portunus/controller/internal/health"
	"github.com/BrandonDHaskell/Portunus/controller/internal/httpapi"
	"github.com/BrandonDHaskell/Portunus/controller/internal/hw"
	"github.com/BrandonDHaskell/Portunus/controller/internal/metrics"
	"github.com/BrandonDHaskell/Portunus/controller/internal/netcheck"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/backend"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/identity"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/reader"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/router"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/service"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/store/sqlite"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := log.New(os.Stdout, "portunus-controller ", log.LstdFlags|log.LUTC)

	cfg, err := config.Load()
	if err != nil {
		logger.Printf("error: %v", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	rt := router.New(cfg.TelemetryCapacity)
	probe := netcheck.InterfaceProbe{Name: cfg.NetworkInterface}
	client := backend.New(backend.Config{
		BaseURL:            cfg.Endpoint,
		DeviceName:         cfg.DeviceName,
		CatalogPrefix:      cfg.CatalogPrefix,
		VersionPrefix:      cfg.VersionPrefix,
		LogPrefix:          cfg.LogPrefix,
		VersionLen:         cfg.VersionLen,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if cfg.InsecureSkipVerify {
		logger.Printf("warn: TLS peer verification disabled for %s", cfg.Endpoint)
	}

	// Credential store
	storage := sqlite.NewCredentialStore(db.Config{Path: cfg.DBPath, Env: cfg.Env})
	defer storage.Close()

	creds := service.NewCredentialService(service.CredentialConfig{
		VersionTimeout: cfg.HTTPTimeout,
		CatalogTimeout: cfg.CatalogTimeout,
	}, service.CredentialDeps{
		Storage: storage,
		Catalog: client,
		Probe:   probe,
		Logger:  logger,
		Metrics: m,
	})
	if err := creds.Bootstrap(ctx); err != nil {
		logger.Printf("fatal: %v", err)
		return 1
	}
	if cfg.IsDev() {
		seedDev(ctx, creds, cfg.DevSeedUIDs, logger)
	}

	// Liveness
	watchdog := health.NewWatchdog(logger)
	watchdog.Watch(health.ServiceReader, cfg.WatchdogTimeout)
	watchdog.Watch(health.ServiceDecision, cfg.WatchdogTimeout)
	watchdog.Watch(health.ServiceSync, cfg.CatalogTimeout+cfg.HTTPTimeout+2*time.Minute)

	// Outputs
	var outputs service.Outputs
	if cfg.SimulateHW {
		outputs = hw.NewSimOutputs(logger)
	} else {
		gpioOut, err := hw.OpenGPIOOutputs(hw.OutputPins{
			Relay:   cfg.RelayPin,
			Allowed: cfg.AllowedLEDPin,
			Denied:  cfg.DeniedLEDPin,
		})
		if err != nil {
			logger.Printf("error: %v", err)
			return 1
		}
		outputs = gpioOut
	}

	readerTask, err := newReaderTask(cfg, rt, watchdog.Feeder(health.ServiceReader), logger, m)
	if err != nil {
		logger.Printf("error: %v", err)
		return 1
	}

	// Services
	engine := service.NewDecisionEngine(service.DecisionConfig{
		Mode:         cfg.Latch(),
		Duration:     cfg.TimedDuration,
		RemoteStatus: cfg.ReaderMode == config.ReaderRemote,
	}, service.DecisionDeps{
		Credentials: creds,
		Outputs:     outputs,
		Router:      rt,
		Logger:      logger,
		Metrics:     m,
		Alive:       watchdog.Feeder(health.ServiceDecision),
	})

	runner := service.NewSyncRunner(creds, service.SyncRunnerConfig{
		InitialDelay: cfg.SyncInitialDelay,
		Period:       cfg.SyncPeriod,
		Alive:        watchdog.Feeder(health.ServiceSync),
	}, logger)

	telemetry := service.NewTelemetryDispatcher(service.TelemetryConfig{
		Timeout:  cfg.HTTPTimeout,
		Cooldown: cfg.TelemetryCooldown,
	}, service.TelemetryDeps{
		Queue:   rt.Telemetry,
		Poster:  client,
		Probe:   probe,
		Logger:  logger,
		Metrics: m,
	})

	// HTTP
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:      logger,
		Addr:        cfg.HTTPAddr,
		DeviceName:  cfg.DeviceName,
		Credentials: creds,
		Decision:    engine,
		Sync:        runner,
		Telemetry:   rt.Telemetry,
		Health:      watchdog,
		Gatherer:    reg,
	})

	// gRPC health
	grpcServer := grpc.NewServer()
	watchdog.Register(grpcServer)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Printf("error: listen grpc %s: %v", cfg.GRPCAddr, err)
		return 1
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return readerTask(gctx) })
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return telemetry.Run(gctx) })
	g.Go(func() error { return watchdog.Run(gctx, time.Second) })

	runner.Start(gctx)
	g.Go(func() error {
		<-gctx.Done()
		runner.Stop()
		return nil
	})

	g.Go(func() error {
		logger.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		logger.Printf("grpc health listening on %s", lis.Addr())
		return serveGRPC(grpcServer, lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		grpcServer.GracefulStop()
		return nil
	})

	logger.Printf("controller started device=%s reader=%s latch=%s", cfg.DeviceName, cfg.ReaderMode, cfg.Latch())

	if err := g.Wait(); err != nil {
		logger.Printf("error: %v", err)
		return 1
	}
	logger.Printf("controller stopped")
	return 0
}

// serveGRPC treats a stop that lands before Serve starts as a clean exit.
func serveGRPC(s *grpc.Server, lis net.Listener) error {
	if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func newReaderTask(cfg config.Config, rt *router.Router, alive func(), logger *log.Logger, m *metrics.Metrics) (func(context.Context) error, error) {
	if cfg.ReaderMode == config.ReaderRemote {
		port, err := hw.OpenSerial(cfg.SerialDevice, cfg.SerialBaud)
		if err != nil {
			return nil, err
		}
		link := reader.NewRemoteLink(port, rt, reader.RemoteConfig{Alive: alive}, logger, m)

		return func(ctx context.Context) error {
			defer port.Close()
			return link.Run(ctx)
		}, nil
	}

	localCfg := reader.LocalConfig{ReadTimeout: cfg.ReaderTimeout, Alive: alive}

	if cfg.SimulateHW {
		logger.Printf("sim: reading card UIDs from stdin")
		adapter := reader.NewLocalAdapter(hw.NewSimReader(os.Stdin, logger), rt.Reads, localCfg, logger, m)
		return adapter.Run, nil
	}

	rfid := hw.NewMFRC522(hw.MFRC522Config{
		SPIPort:  cfg.SPIPort,
		ResetPin: cfg.ReaderResetPin,
		IRQPin:   cfg.ReaderIRQPin,
	}, logger)
	adapter := reader.NewLocalAdapter(rfid, rt.Reads, localCfg, logger, m)

	return func(ctx context.Context) error {
		defer rfid.Close()
		return adapter.Run(ctx)
	}, nil
}

func seedDev(ctx context.Context, creds *service.CredentialService, raw []string, logger *log.Logger) {
	if len(raw) == 0 {
		return
	}

	uids := make([][]byte, 0, len(raw))
	for _, s := range raw {
		uid, err := identity.ParseUID(s)
		if err != nil {
			logger.Printf("warn: dev seed: %v", err)
			continue
		}
		uids = append(uids, uid)
	}
	if err := creds.SeedDev(ctx, uids); err != nil {
		logger.Printf("warn: dev seed: %v", err)
	}
}
