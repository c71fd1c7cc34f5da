package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/smallsat-twin/model"
)

// SimCollector bundles the simulator's Prometheus metrics. It satisfies the
// recorder interfaces of the simulation loop, the CDH router and the
// transport layer.
type SimCollector struct {
	gatherer prometheus.Gatherer

	Ticks        prometheus.Counter
	TickDuration prometheus.Histogram
	TMPackets    prometheus.Counter
	SinkErrors   *prometheus.CounterVec
	TCDatagrams  prometheus.Counter
	TCRejects    *prometheus.CounterVec
	Commands     *prometheus.CounterVec
	GRPCRequests *prometheus.CounterVec

	QueueDepth     prometheus.Gauge
	SequenceCount  prometheus.Gauge
	ADCSMode       prometheus.Gauge
	ADCSStatus     prometheus.Gauge
	ADCSErrorAngle prometheus.Gauge
	Eclipse        prometheus.Gauge
	AltitudeKm     prometheus.Gauge
	GroundContact  prometheus.Gauge
	BatteryCharge  prometheus.Gauge
}

// NewSimCollector registers simulator metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Metrics already registered under the same name are reused.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	r := &registrar{reg: reg}
	c := &SimCollector{
		gatherer: gatherer,

		Ticks: r.counter("sim_ticks_total", "Total number of simulation ticks executed."),
		TickDuration: r.histogram("sim_tick_duration_seconds", "Wall-clock time spent executing one tick.",
			[]float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1}),
		TMPackets:   r.counter("sim_tm_packets_total", "Total number of housekeeping packets framed."),
		SinkErrors:  r.counterVec("sim_tm_sink_errors_total", "Telemetry sink publish failures, labeled by sink.", "sink"),
		TCDatagrams: r.counter("sim_tc_datagrams_total", "Total number of telecommand datagrams received."),
		TCRejects: r.counterVec("sim_tc_rejected_total",
			"Telecommands dropped before routing, labeled by reason (malformed, queue_full).", "reason"),
		Commands: r.counterVec("sim_commands_total",
			"Routed commands, labeled by target subsystem and outcome.", "subsystem", "outcome"),
		GRPCRequests: r.counterVec("sim_grpc_requests_total",
			"Handled gRPC requests, labeled by service, method, and gRPC status code.", "service", "method", "code"),

		QueueDepth:     r.gauge("sim_command_queue_depth", "Commands waiting for the next tick."),
		SequenceCount:  r.gauge("sim_sequence_count", "Sequence count of the last housekeeping packet."),
		ADCSMode:       r.gauge("sim_adcs_mode", "Commanded ADCS mode (0 OFF .. 4 DOWNLOAD)."),
		ADCSStatus:     r.gauge("sim_adcs_status", "ADCS status (0 UNCONTROLLED, 1 SLEWING, 2 POINTING_ACHIEVED)."),
		ADCSErrorAngle: r.gauge("sim_adcs_error_angle_degrees", "Angle between current and desired attitude."),
		Eclipse:        r.gauge("sim_eclipse", "1 while the spacecraft is in eclipse."),
		AltitudeKm:     r.gauge("sim_altitude_km", "Spacecraft altitude above the mean equatorial radius."),
		GroundContact:  r.gauge("sim_ground_contact", "1 while the ground station has line of sight."),
		BatteryCharge:  r.gauge("sim_battery_charge_percent", "Battery state of charge."),
	}
	if r.err != nil {
		return nil, r.err
	}
	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveTick records one completed tick.
func (c *SimCollector) ObserveTick(d time.Duration) {
	if c == nil {
		return
	}
	c.Ticks.Inc()
	c.TickDuration.Observe(d.Seconds())
}

// RecordSnapshot updates the state gauges from a tick's snapshot.
func (c *SimCollector) RecordSnapshot(s model.Snapshot) {
	if c == nil {
		return
	}
	c.TMPackets.Inc()
	c.QueueDepth.Set(float64(s.QueuedCommands))
	c.SequenceCount.Set(float64(s.SequenceCount))
	c.ADCSMode.Set(float64(s.Attitude.Mode))
	c.ADCSStatus.Set(float64(s.Attitude.Status))
	c.ADCSErrorAngle.Set(s.Attitude.ErrorAngleDeg)
	c.Eclipse.Set(boolGauge(s.Orbit.Eclipse))
	c.AltitudeKm.Set(s.Orbit.AltitudeKm)
	c.GroundContact.Set(boolGauge(s.Ground.InContact))
	c.BatteryCharge.Set(s.Power.BatteryChargePct)
}

// CommandRejected counts a telecommand dropped before routing.
func (c *SimCollector) CommandRejected(reason string) {
	if c == nil {
		return
	}
	c.TCRejects.WithLabelValues(reason).Inc()
}

// CommandProcessed counts a routed command by outcome.
func (c *SimCollector) CommandProcessed(subsystem, outcome string) {
	if c == nil {
		return
	}
	c.Commands.WithLabelValues(subsystem, outcome).Inc()
}

// SinkError counts a failed sink publish.
func (c *SimCollector) SinkError(sink string) {
	if c == nil {
		return
	}
	c.SinkErrors.WithLabelValues(sink).Inc()
}

// TCDatagram counts a received telecommand datagram.
func (c *SimCollector) TCDatagram() {
	if c == nil {
		return
	}
	c.TCDatagrams.Inc()
}

// TCRejected counts an undecodable telecommand datagram.
func (c *SimCollector) TCRejected(reason string) { c.CommandRejected(reason) }

// UnaryServerInterceptor records request counts for unary RPCs.
func (c *SimCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if c == nil || c.GRPCRequests == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		c.GRPCRequests.WithLabelValues(service, method, status.Code(err).String()).Inc()
		return resp, err
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

// registrar registers collectors in sequence and keeps the first error.
type registrar struct {
	reg prometheus.Registerer
	err error
}

func (r *registrar) counter(name, help string) prometheus.Counter {
	if r.err != nil {
		return nil
	}
	c, err := registerCounter(r.reg, prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help}), name)
	r.err = err
	return c
}

func (r *registrar) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	if r.err != nil {
		return nil
	}
	v, err := registerCounterVec(r.reg, prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels), name)
	r.err = err
	return v
}

func (r *registrar) gauge(name, help string) prometheus.Gauge {
	if r.err != nil {
		return nil
	}
	g, err := registerGauge(r.reg, prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help}), name)
	r.err = err
	return g
}

func (r *registrar) histogram(name, help string, buckets []float64) prometheus.Histogram {
	if r.err != nil {
		return nil
	}
	h, err := registerHistogram(r.reg, prometheus.NewHistogram(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}), name)
	r.err = err
	return h
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
