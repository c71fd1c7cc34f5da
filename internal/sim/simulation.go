// Package sim assembles the spacecraft bus and advances it one tick at a
// time: drain telecommands, propagate the orbit, update attitude and the
// other subsystems, frame the housekeeping packet and publish it.
package sim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/smallsat-twin/core"
	"github.com/signalsfoundry/smallsat-twin/internal/adcs"
	"github.com/signalsfoundry/smallsat-twin/internal/ccsds"
	"github.com/signalsfoundry/smallsat-twin/internal/cdh"
	"github.com/signalsfoundry/smallsat-twin/internal/housekeeping"
	"github.com/signalsfoundry/smallsat-twin/internal/logging"
	"github.com/signalsfoundry/smallsat-twin/internal/subsystems"
	"github.com/signalsfoundry/smallsat-twin/internal/transport"
	"github.com/signalsfoundry/smallsat-twin/model"
	"github.com/signalsfoundry/smallsat-twin/timectrl"
)

const tracerName = "github.com/signalsfoundry/smallsat-twin/internal/sim"

// Config describes the spacecraft and how the loop runs.
type Config struct {
	MissionStart  time.Time
	Step          time.Duration
	TimeFactor    float64
	ClockMode     timectrl.Mode
	QueueCapacity int

	Orbit         model.OrbitalElements
	J2Step        time.Duration
	Ephemeris     string
	GroundStation core.GroundStation

	APID            uint16
	SecondaryHeader bool

	OBC       subsystems.OBCConfig
	CDH       housekeeping.Config
	CDHMode   uint8
	Power     subsystems.PowerConfig
	ADCS      adcs.Config
	Comms     subsystems.CommsConfig
	Payload   subsystems.PayloadConfig
	Datastore subsystems.DatastoreConfig
}

// Metrics receives per-tick measurements.
type Metrics interface {
	ObserveTick(d time.Duration)
	RecordSnapshot(s model.Snapshot)
	CommandRejected(reason string)
}

// Publisher consumes each tick's frame.
type Publisher interface {
	Publish(ctx context.Context, f transport.Frame) error
}

// Simulation owns every subsystem model and the telecommand queue. Tick and
// Run must be called from a single goroutine; Enqueue and Latest are safe
// from any goroutine.
type Simulation struct {
	cfg       Config
	log       logging.Logger
	tracer    trace.Tracer
	metrics   Metrics
	publisher Publisher
	noise     adcs.Noise

	queue     *CommandQueue
	prop      *core.OrbitPropagator
	adcs      *adcs.Module
	obc       *subsystems.OBC
	cdh       *cdh.CDH
	power     *subsystems.Power
	comms     *subsystems.Comms
	payload   *subsystems.Payload
	datastore *subsystems.Datastore

	tick   uint64
	latest SnapshotStore
}

// Option configures a Simulation.
type Option func(*Simulation)

// WithMetrics records tick metrics. When m also implements
// cdh.CommandRecorder it receives command outcomes.
func WithMetrics(m Metrics) Option {
	return func(s *Simulation) { s.metrics = m }
}

// WithPublisher sends each tick's frame to p.
func WithPublisher(p Publisher) Option {
	return func(s *Simulation) { s.publisher = p }
}

// WithNoise seeds the attitude jitter source.
func WithNoise(n adcs.Noise) Option {
	return func(s *Simulation) { s.noise = n }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(s *Simulation) { s.tracer = t }
}

// New builds the spacecraft from cfg.
func New(cfg Config, log logging.Logger, opts ...Option) (*Simulation, error) {
	if log == nil {
		log = logging.Noop()
	}
	if cfg.Step <= 0 {
		return nil, errors.New("sim: step must be positive")
	}
	if cfg.ADCS.TimeStep == 0 {
		cfg.ADCS.TimeStep = cfg.Step
	}

	s := &Simulation{cfg: cfg, log: log}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}

	ephem, err := core.NewEphemerides(cfg.Ephemeris)
	if err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}
	s.prop, err = core.NewOrbitPropagator(cfg.Orbit, core.WithJ2Step(cfg.J2Step), core.WithSun(ephem.Sun))
	if err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}

	var adcsOpts []adcs.Option
	if s.noise != nil {
		adcsOpts = append(adcsOpts, adcs.WithNoise(s.noise))
	}
	s.adcs, err = adcs.New(cfg.ADCS, log, adcsOpts...)
	if err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}

	s.queue = NewCommandQueue(cfg.QueueCapacity)
	s.obc = subsystems.NewOBC(cfg.OBC, log)
	s.power = subsystems.NewPower(cfg.Power, log)
	s.comms = subsystems.NewComms(cfg.Comms, s.queue, log)
	s.datastore = subsystems.NewDatastore(cfg.Datastore, log)
	s.payload = subsystems.NewPayload(cfg.Payload, s.datastore, log)

	var cdhOpts []cdh.Option
	if rec, ok := s.metrics.(cdh.CommandRecorder); ok {
		cdhOpts = append(cdhOpts, cdh.WithCommandRecorder(rec))
	}
	s.cdh, err = cdh.New(cdh.Config{
		APID:            cfg.APID,
		SecondaryHeader: cfg.SecondaryHeader,
		MissionEpoch:    cfg.MissionStart,
		Housekeeping:    cfg.CDH,
		Mode:            cfg.CDHMode,
	}, cdh.Subsystems{
		OBC:       s.obc,
		Power:     s.power,
		ADCS:      s.adcs,
		Comms:     s.comms,
		Payload:   s.payload,
		Datastore: s.datastore,
	}, log, cdhOpts...)
	if err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}
	return s, nil
}

func (s *Simulation) ADCS() *adcs.Module                { return s.adcs }
func (s *Simulation) CDH() *cdh.CDH                     { return s.cdh }
func (s *Simulation) OBC() *subsystems.OBC              { return s.obc }
func (s *Simulation) Power() *subsystems.Power          { return s.power }
func (s *Simulation) Comms() *subsystems.Comms          { return s.comms }
func (s *Simulation) Payload() *subsystems.Payload      { return s.payload }
func (s *Simulation) Datastore() *subsystems.Datastore  { return s.datastore }
func (s *Simulation) Propagator() *core.OrbitPropagator { return s.prop }
func (s *Simulation) Queue() *CommandQueue              { return s.queue }

// Latest returns the most recent snapshot.
func (s *Simulation) Latest() (model.Snapshot, bool) { return s.latest.Latest() }

// Enqueue queues a telecommand for the next tick. It never blocks; when
// the queue is full the command is dropped and false returned.
func (s *Simulation) Enqueue(cmd model.Command) bool {
	if s.queue.Enqueue(cmd) {
		return true
	}
	s.log.Warn(context.Background(), "command queue full; dropping command",
		logging.Uint("command_id", uint64(cmd.ID)),
		logging.Int("capacity", s.queue.Cap()),
	)
	if s.metrics != nil {
		s.metrics.CommandRejected("queue_full")
	}
	return false
}

// Tick advances every model to now and emits one packet.
func (s *Simulation) Tick(ctx context.Context, now time.Time) (model.Snapshot, error) {
	started := time.Now()
	s.tick++
	ctx = logging.ContextWithTick(ctx, s.tick)
	ctx, span := s.tracer.Start(ctx, "sim.tick", trace.WithAttributes(
		attribute.Int64("sim.tick", int64(s.tick)),
		attribute.String("sim.time", now.UTC().Format(time.RFC3339)),
	))
	defer span.End()

	for _, cmd := range s.queue.Drain() {
		// Outcomes are logged and counted by the router.
		_ = s.cdh.ProcessCommand(ctx, cmd.ID, cmd.Payload)
	}

	_, propSpan := s.tracer.Start(ctx, "orbit.propagate")
	orbit := s.prop.Propagate(now)
	propSpan.SetAttributes(
		attribute.Float64("orbit.altitude_km", orbit.AltitudeKm),
		attribute.Bool("orbit.eclipse", orbit.Eclipse),
	)
	propSpan.End()

	adcsCtx, adcsSpan := s.tracer.Start(ctx, "adcs.update")
	att, err := s.adcs.Update(adcsCtx, orbit)
	if err != nil {
		adcsSpan.RecordError(err)
		adcsSpan.SetStatus(codes.Error, "attitude uncontrolled")
	}
	adcsSpan.SetAttributes(
		attribute.String("adcs.mode", att.Mode.String()),
		attribute.String("adcs.status", att.Status.String()),
	)
	adcsSpan.End()

	dt := s.cfg.Step
	s.obc.Step(dt, orbit.Eclipse)
	s.cdh.Step(dt, orbit.Eclipse)
	load := s.load()
	if err := s.power.Update(ctx, orbit, att.Quaternion, load, dt); err != nil {
		s.log.Warn(ctx, "solar generation unavailable", logging.Err(err))
	}
	elevation, visible := s.cfg.GroundStation.Visibility(now, orbit.Position)
	s.comms.Update(ctx, dt, orbit.Eclipse, visible)
	s.payload.Update(ctx, dt, orbit.Eclipse)
	s.datastore.Update(ctx, dt, orbit.Eclipse)

	seq := s.cdh.SequenceCount()
	_, pktSpan := s.tracer.Start(ctx, "cdh.create_tm_packet")
	pkt, err := s.cdh.CreateTMPacket(now)
	if err != nil {
		pktSpan.RecordError(err)
		pktSpan.End()
		span.SetStatus(codes.Error, "tm packet")
		return model.Snapshot{}, err
	}
	pktSpan.SetAttributes(attribute.Int("ccsds.sequence_count", int(seq)), attribute.Int("ccsds.length", len(pkt)))
	pktSpan.End()
	s.comms.QueueTelemetry(len(pkt))

	snap := model.Snapshot{
		Tick:               s.tick,
		Time:               now,
		MissionElapsedSec:  ccsds.MissionElapsedSeconds(s.cfg.MissionStart, now),
		Orbit:              orbit,
		Attitude:           att,
		AtmosphericDensity: core.AtmosphericDensity(orbit.AltitudeKm),
		Ground: model.GroundContact{
			Station:      s.cfg.GroundStation.Name,
			ElevationDeg: elevation,
			InContact:    visible,
		},
		Power: model.PowerSummary{
			BatteryChargePct: s.power.BatteryCharge(),
			BatteryVoltage:   s.power.BatteryVoltage(),
			BalanceW:         s.power.Balance(),
			SolarW:           s.power.Panels().Total(),
			LoadW:            load,
		},
		SequenceCount:  seq,
		PacketBytes:    len(pkt),
		QueuedCommands: s.queue.Len(),
	}
	s.latest.Set(snap)

	if s.publisher != nil {
		// Per-sink failures are logged by the publisher.
		_ = s.publisher.Publish(ctx, transport.Frame{Packet: pkt, Snapshot: snap})
	}
	if s.metrics != nil {
		s.metrics.RecordSnapshot(snap)
		s.metrics.ObserveTick(time.Since(started))
	}
	return snap, nil
}

// load sums the power draw of every subsystem.
func (s *Simulation) load() float64 {
	total := 0.0
	for _, hk := range []housekeeping.Housekeeping{
		s.obc.Housekeeping(),
		s.cdh.Housekeeping(),
		s.power.Housekeeping(),
		s.adcs.Housekeeping(),
		s.comms.Housekeeping(),
		s.payload.Housekeeping(),
		s.datastore.Housekeeping(),
	} {
		total += hk.PowerDraw
	}
	return total
}

// Run emits a tick at mission start and then one per step until duration
// of simulation time has elapsed (zero runs until ctx is cancelled).
func (s *Simulation) Run(ctx context.Context, duration time.Duration) error {
	tc := timectrl.NewTimeController(s.cfg.MissionStart, s.cfg.Step, s.cfg.ClockMode)
	if s.cfg.TimeFactor > 0 {
		tc.TimeFactor = s.cfg.TimeFactor
	}
	tick := func(ctx context.Context, now time.Time) {
		if _, err := s.Tick(ctx, now); err != nil {
			s.log.Error(ctx, "tick failed", logging.Err(err))
		}
	}

	s.log.Info(ctx, "simulation started",
		logging.String("mission_start", s.cfg.MissionStart.UTC().Format(time.RFC3339)),
		logging.String("step", s.cfg.Step.String()),
		logging.String("clock", s.cfg.ClockMode.String()),
		logging.Float("orbital_period_min", s.prop.Period().Minutes()),
	)
	tick(ctx, tc.Now())
	tc.AddListener(tick)
	<-tc.Start(ctx, duration)
	s.log.Info(ctx, "simulation stopped", logging.Uint("ticks", s.tick))
	return ctx.Err()
}
