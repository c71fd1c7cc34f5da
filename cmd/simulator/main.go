package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/smallsat-twin/internal/config"
	"github.com/signalsfoundry/smallsat-twin/internal/logging"
	"github.com/signalsfoundry/smallsat-twin/internal/observability"
	"github.com/signalsfoundry/smallsat-twin/internal/sim"
	"github.com/signalsfoundry/smallsat-twin/internal/transport"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML, TOML or JSON config file")
	duration := flag.Duration("duration", 0, "simulated time to run (overrides simulation.duration; 0 keeps the configured value)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "smallsat-twin: %v\n", err)
		os.Exit(1)
	}
	if *duration > 0 {
		cfg.Simulation.Duration = *duration
	}

	log := logging.New(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, log, prometheus.DefaultRegisterer)
	stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error(context.Background(), "simulator exited", logging.Err(err))
		os.Exit(1)
	}
}

// run wires the simulation to its sinks and servers and blocks until the
// configured duration elapses or ctx is cancelled.
func run(ctx context.Context, cfg config.Config, log logging.Logger, reg prometheus.Registerer) error {
	collector, err := observability.NewSimCollector(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Observability.Tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	simCfg, err := cfg.ToSim()
	if err != nil {
		return err
	}

	fanout := transport.NewFanout(log, transport.WithSinkRecorder(collector))
	defer func() {
		if err := fanout.Close(); err != nil {
			log.Warn(context.Background(), "closing telemetry sinks", logging.Err(err))
		}
	}()

	s, err := sim.New(simCfg, log, sim.WithMetrics(collector), sim.WithPublisher(fanout))
	if err != nil {
		return err
	}

	link, err := transport.ListenUDP(cfg.Network.UDP(), s.Enqueue, log, transport.WithDatagramRecorder(collector))
	if err != nil {
		return err
	}
	fanout.Add(link)

	if err := addBusSinks(ctx, cfg.Sinks, fanout, log); err != nil {
		return err
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	var servers []*http.Server
	if cfg.Sinks.WebSocket.Enabled {
		hub := transport.NewHub(log)
		go hub.Run(hubCtx)
		fanout.Add(hub)

		mux := http.NewServeMux()
		mux.Handle(cfg.Sinks.WebSocket.Path, hub)
		servers = append(servers, serveHTTP(cfg.Sinks.WebSocket.Addr, "live telemetry", mux, log))
	}
	if cfg.Observability.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		servers = append(servers, serveHTTP(cfg.Observability.MetricsAddr, "Prometheus metrics", mux, log))
	}

	var health *observability.HealthServer
	if cfg.Observability.HealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.Observability.HealthAddr)
		if err != nil {
			return fmt.Errorf("listen for gRPC health on %s: %w", cfg.Observability.HealthAddr, err)
		}
		health = observability.NewHealthServer(collector, log)
		go func() {
			if err := health.Serve(lis); err != nil {
				log.Error(context.Background(), "gRPC health server exited", logging.Err(err))
			}
		}()
		health.SetServing(true)
	}

	runErr := s.Run(ctx, cfg.Simulation.Duration)

	log.Info(context.Background(), "shutting down simulator")
	if health != nil {
		health.Stop()
	}
	stopHub()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		_ = srv.Shutdown(shutdownCtx)
	}
	return runErr
}

// addBusSinks connects the optional message-bus and cache sinks. A sink that
// cannot connect at startup is fatal.
func addBusSinks(ctx context.Context, cfg config.SinksConfig, fanout *transport.Fanout, log logging.Logger) error {
	if cfg.NATS.Enabled {
		sink, err := transport.NewNATSSink(cfg.NATS.URL, cfg.NATS.Subject, log)
		if err != nil {
			return err
		}
		fanout.Add(sink)
		log.Info(ctx, "publishing telemetry to NATS",
			logging.String("url", cfg.NATS.URL),
			logging.String("subject", cfg.NATS.Subject),
		)
	}
	if cfg.Redis.Enabled {
		sink, err := transport.NewRedisSink(ctx, cfg.Redis.Transport())
		if err != nil {
			return err
		}
		fanout.Add(sink)
		log.Info(ctx, "archiving telemetry to Redis", logging.String("addr", cfg.Redis.Addr))
	}
	return nil
}

func serveHTTP(addr, what string, handler http.Handler, log logging.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), what+" server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving "+what, logging.String("addr", addr))
	return srv
}
