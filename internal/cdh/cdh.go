// Package cdh implements command and data handling: it frames the
// housekeeping telemetry of every subsystem into one CCSDS packet per tick
// and routes inbound commands to subsystems by command-ID decade.
package cdh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/smallsat-twin/internal/ccsds"
	"github.com/signalsfoundry/smallsat-twin/internal/housekeeping"
	"github.com/signalsfoundry/smallsat-twin/internal/logging"
	"github.com/signalsfoundry/smallsat-twin/model"
)

// ErrUnroutable is returned for command IDs outside every subsystem decade.
var ErrUnroutable = errors.New("command id outside all subsystem ranges")

// Handler applies commands addressed to one subsystem.
type Handler interface {
	ProcessCommand(ctx context.Context, id uint16, payload []byte) error
}

// TelemetrySource packs a subsystem's fixed-layout telemetry record.
type TelemetrySource interface {
	Telemetry() []byte
}

// Subsystem is both a command handler and a telemetry source.
type Subsystem interface {
	Handler
	TelemetrySource
}

// Subsystems names every subsystem whose record appears in the housekeeping
// packet. The packet order is fixed: OBC, CDH, POWER, ADCS, COMMS, PAYLOAD,
// DATASTORE.
type Subsystems struct {
	OBC       Subsystem
	Power     Subsystem
	ADCS      Subsystem
	Comms     Subsystem
	Payload   Subsystem
	Datastore Subsystem
}

// Outcome classifies how a routed command ended.
type Outcome string

const (
	OutcomeApplied    Outcome = "applied"
	OutcomeMalformed  Outcome = "malformed"
	OutcomeInvalid    Outcome = "invalid"
	OutcomeUnknown    Outcome = "unknown_id"
	OutcomeUnroutable Outcome = "unroutable"
	OutcomeFailed     Outcome = "failed"
)

// CommandRecorder observes routed commands.
type CommandRecorder interface {
	CommandProcessed(subsystem string, outcome string)
}

// Config configures packet framing.
type Config struct {
	APID            uint16
	SecondaryHeader bool
	MissionEpoch    time.Time
	Housekeeping    housekeeping.Config
	Mode            uint8
}

// CDH frames telemetry and routes commands. It is owned by the simulation
// thread.
type CDH struct {
	cfg      Config
	hk       housekeeping.Housekeeping
	subs     Subsystems
	routes   map[model.SubsystemID]Handler
	seq      uint16
	log      logging.Logger
	recorder CommandRecorder
}

// Option configures a CDH.
type Option func(*CDH)

// WithCommandRecorder reports each routed command's outcome.
func WithCommandRecorder(r CommandRecorder) Option {
	return func(c *CDH) { c.recorder = r }
}

// New builds a CDH over the given subsystems.
func New(cfg Config, subs Subsystems, log logging.Logger, opts ...Option) (*CDH, error) {
	if log == nil {
		log = logging.Noop()
	}
	if cfg.APID > ccsds.MaxAPID {
		return nil, &ccsds.FieldRangeError{Field: "apid", Value: uint64(cfg.APID), Max: ccsds.MaxAPID}
	}
	for name, s := range map[string]Subsystem{
		"OBC": subs.OBC, "POWER": subs.Power, "ADCS": subs.ADCS,
		"COMMS": subs.Comms, "PAYLOAD": subs.Payload, "DATASTORE": subs.Datastore,
	} {
		if s == nil {
			return nil, fmt.Errorf("cdh: %s subsystem is nil", name)
		}
	}

	c := &CDH{
		cfg:  cfg,
		hk:   housekeeping.New(cfg.Housekeeping),
		subs: subs,
		routes: map[model.SubsystemID]Handler{
			model.SubsystemOBC:       subs.OBC,
			model.SubsystemPower:     subs.Power,
			model.SubsystemADCS:      subs.ADCS,
			model.SubsystemComms:     subs.Comms,
			model.SubsystemPayload:   subs.Payload,
			model.SubsystemDatastore: subs.Datastore,
		},
		log: log.With(logging.String("subsystem", model.SubsystemCDH.String())),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SequenceCount returns the count the next packet will carry.
func (c *CDH) SequenceCount() uint16 { return c.seq }

// Step advances the CDH board's thermal state.
func (c *CDH) Step(dt time.Duration, eclipse bool) { c.hk.Step(dt, eclipse) }

// Telemetry packs the CDH record: state, temperature, heater setpoint,
// power draw, mode (>BBBfB).
func (c *CDH) Telemetry() []byte {
	r := housekeeping.NewRecord(8)
	c.hk.AppendCommon(r)
	return r.U8(c.cfg.Mode).Bytes()
}

// CreateTMPacket assembles the housekeeping packet for now and advances the
// sequence counter.
func (c *CDH) CreateTMPacket(now time.Time) ([]byte, error) {
	var payload []byte
	for _, src := range []TelemetrySource{
		c.subs.OBC, c, c.subs.Power, c.subs.ADCS, c.subs.Comms, c.subs.Payload, c.subs.Datastore,
	} {
		payload = append(payload, src.Telemetry()...)
	}

	var secondary []byte
	if c.cfg.SecondaryHeader {
		secondary = ccsds.SecondaryHeaderBytes(ccsds.MissionElapsedSeconds(c.cfg.MissionEpoch, now))
	}

	pkt, err := ccsds.EncodePacket(ccsds.PrimaryHeader{
		Type:          ccsds.Telemetry,
		APID:          c.cfg.APID,
		SequenceFlags: ccsds.SequenceFlagsStandalone,
		SequenceCount: c.seq,
	}, secondary, payload)
	if err != nil {
		return nil, fmt.Errorf("cdh: encode tm packet: %w", err)
	}
	c.seq = (c.seq + 1) % ccsds.SequenceCountModulo
	return pkt, nil
}

// ProcessCommand routes a command to the subsystem owning its decade. Every
// failure is logged here; the error is returned for accounting only and no
// acknowledgement reaches the sender.
func (c *CDH) ProcessCommand(ctx context.Context, id uint16, payload []byte) error {
	sub, ok := model.SubsystemForCommand(id)
	if !ok {
		c.log.Warn(ctx, "dropping command outside all subsystem ranges",
			logging.Uint("command_id", uint64(id)),
			logging.Int("payload_len", len(payload)),
		)
		c.record(sub, OutcomeUnroutable)
		return fmt.Errorf("%w: %d", ErrUnroutable, id)
	}

	err := c.routes[sub].ProcessCommand(ctx, id, payload)
	outcome := classify(err)
	c.record(sub, outcome)
	if err != nil {
		c.log.Warn(ctx, "command dropped",
			logging.String("target", sub.String()),
			logging.Uint("command_id", uint64(id)),
			logging.String("outcome", string(outcome)),
			logging.Err(err),
		)
		return err
	}
	c.log.Debug(ctx, "command applied",
		logging.String("target", sub.String()),
		logging.Uint("command_id", uint64(id)),
	)
	return nil
}

func (c *CDH) record(sub model.SubsystemID, o Outcome) {
	if c.recorder == nil {
		return
	}
	name := "none"
	if o != OutcomeUnroutable {
		name = sub.String()
	}
	c.recorder.CommandProcessed(name, string(o))
}

func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeApplied
	case errors.Is(err, housekeeping.ErrMalformedPayload):
		return OutcomeMalformed
	case errors.Is(err, housekeeping.ErrInvalidParameter):
		return OutcomeInvalid
	case errors.Is(err, housekeeping.ErrUnknownCommand):
		return OutcomeUnknown
	default:
		return OutcomeFailed
	}
}

// Housekeeping returns the CDH board's common state.
func (c *CDH) Housekeeping() housekeeping.Housekeeping { return c.hk }
