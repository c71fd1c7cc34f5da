package subsystems

import (
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/smallsat-twin/internal/housekeeping"
	"github.com/signalsfoundry/smallsat-twin/internal/logging"
	"github.com/signalsfoundry/smallsat-twin/model"
)

// StateOn is the housekeeping state of a powered subsystem.
const StateOn uint8 = 1

// Payload modes and status values.
const (
	PayloadModeIdle       uint8 = 0
	PayloadModeCollecting uint8 = 1

	PayloadStatusReady uint8 = 0
	PayloadStatusBusy  uint8 = 1
)

// FileStore receives payload products.
type FileStore interface {
	Store(name string, sizeMB float64) error
}

// PayloadConfig configures the imager.
type PayloadConfig struct {
	Housekeeping housekeeping.Config `mapstructure:",squash"`
	DataRateBps  float64             `mapstructure:"data_rate_bps"`
}

// Payload models an instrument that accumulates data while collecting and
// writes it to the datastore as one file when collection stops.
type Payload struct {
	hk        housekeeping.Housekeeping
	cfg       PayloadConfig
	mode      uint8
	collected float64 // bytes
	files     int
	store     FileStore
	log       logging.Logger
}

// NewPayload returns an idle payload writing files to store.
func NewPayload(cfg PayloadConfig, store FileStore, log logging.Logger) *Payload {
	if log == nil {
		log = logging.Noop()
	}
	return &Payload{
		hk:    housekeeping.New(cfg.Housekeeping),
		cfg:   cfg,
		store: store,
		log:   log.With(logging.String("subsystem", model.SubsystemPayload.String())),
	}
}

func (p *Payload) Mode() uint8                             { return p.mode }
func (p *Payload) CollectedBytes() float64                 { return p.collected }
func (p *Payload) Housekeeping() housekeeping.Housekeeping { return p.hk }

// Status reports BUSY while collecting.
func (p *Payload) Status() uint8 {
	if p.mode == PayloadModeCollecting {
		return PayloadStatusBusy
	}
	return PayloadStatusReady
}

// Update accumulates collected data over dt.
func (p *Payload) Update(_ context.Context, dt time.Duration, eclipse bool) {
	p.hk.Step(dt, eclipse)
	if p.mode == PayloadModeCollecting && p.hk.State == StateOn {
		p.collected += p.cfg.DataRateBps / 8 * dt.Seconds()
	}
}

// ProcessCommand applies a PAYLOAD command (IDs 50-59).
func (p *Payload) ProcessCommand(ctx context.Context, id uint16, payload []byte) error {
	if handled, err := p.hk.HandleCommon(id, payload); handled {
		return err
	}
	switch id {
	case model.CmdPayloadSetMode:
		v, err := housekeeping.U8(payload)
		if err != nil {
			return err
		}
		if v > PayloadModeCollecting {
			return fmt.Errorf("%w: payload mode %d", housekeeping.ErrInvalidParameter, v)
		}
		p.mode = v
		return nil

	case model.CmdPayloadStartCollection:
		if err := housekeeping.Empty(payload); err != nil {
			return err
		}
		if p.hk.State != StateOn {
			return fmt.Errorf("%w: payload is not powered on (state %d)", housekeeping.ErrInvalidParameter, p.hk.State)
		}
		p.mode = PayloadModeCollecting
		p.log.Info(ctx, "data collection started")
		return nil

	case model.CmdPayloadStopCollection:
		if err := housekeeping.Empty(payload); err != nil {
			return err
		}
		p.mode = PayloadModeIdle
		return p.flush(ctx)

	case model.CmdPayloadClearData:
		if err := housekeeping.Empty(payload); err != nil {
			return err
		}
		p.collected = 0
		return nil
	}
	return unknown(model.SubsystemPayload, id)
}

// flush writes collected data to the store as a new file.
func (p *Payload) flush(ctx context.Context) error {
	if p.collected <= 0 || p.store == nil {
		return nil
	}
	name := fmt.Sprintf("payload_%04d.dat", p.files+1)
	if err := p.store.Store(name, p.collected/(1024*1024)); err != nil {
		return err
	}
	p.files++
	p.log.Info(ctx, "collection stored", logging.String("file", name), logging.Float("bytes", p.collected))
	p.collected = 0
	return nil
}

// Telemetry packs the common block and status.
func (p *Payload) Telemetry() []byte {
	r := housekeeping.NewRecord(8)
	p.hk.AppendCommon(r)
	return r.U8(p.Status()).Bytes()
}
