package subsystems

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/smallsat-twin/internal/housekeeping"
	"github.com/signalsfoundry/smallsat-twin/internal/logging"
	"github.com/signalsfoundry/smallsat-twin/model"
)

// Radio modes.
const (
	CommsModeOff  uint8 = 0
	CommsModeTX   uint8 = 1
	CommsModeRX   uint8 = 2
	CommsModeTXRX uint8 = 3
)

// CommandQueue is the pending telecommand queue reported and cleared by
// COMMS.
type CommandQueue interface {
	PendingBytes() int
	Clear() int
}

// CommsConfig configures the radio.
type CommsConfig struct {
	Housekeeping housekeeping.Config `mapstructure:",squash"`
	Mode         uint8               `mapstructure:"mode"`
	TMBitrate    uint32              `mapstructure:"tm_bitrate"` // bps
	TCBitrate    uint32              `mapstructure:"tc_bitrate"` // bps
}

// Comms models the radio: a downlink backlog drained at the TM bitrate
// while a ground station is in view.
type Comms struct {
	hk        housekeeping.Housekeeping
	mode      uint8
	tmBitrate uint32
	tcBitrate uint32
	tmBits    uint64
	contact   bool
	tc        CommandQueue
	log       logging.Logger
}

// NewComms returns a radio initialised from cfg. tc may be nil.
func NewComms(cfg CommsConfig, tc CommandQueue, log logging.Logger) *Comms {
	if log == nil {
		log = logging.Noop()
	}
	return &Comms{
		hk:        housekeeping.New(cfg.Housekeeping),
		mode:      cfg.Mode,
		tmBitrate: cfg.TMBitrate,
		tcBitrate: cfg.TCBitrate,
		tc:        tc,
		log:       log.With(logging.String("subsystem", model.SubsystemComms.String())),
	}
}

func (c *Comms) Mode() uint8                             { return c.mode }
func (c *Comms) TMBitrate() uint32                       { return c.tmBitrate }
func (c *Comms) TCBitrate() uint32                       { return c.tcBitrate }
func (c *Comms) InContact() bool                         { return c.contact }
func (c *Comms) Housekeeping() housekeeping.Housekeeping { return c.hk }

// TMQueueBits returns the downlink backlog in bits.
func (c *Comms) TMQueueBits() uint64 { return c.tmBits }

// QueueTelemetry adds a packet of n bytes to the downlink backlog.
func (c *Comms) QueueTelemetry(n int) {
	if n > 0 {
		c.tmBits += uint64(n) * 8
	}
}

// Update advances the radio by dt. The backlog drains only while
// transmitting and in contact.
func (c *Comms) Update(ctx context.Context, dt time.Duration, eclipse, inContact bool) {
	c.hk.Step(dt, eclipse)
	if inContact != c.contact {
		c.log.Info(ctx, "ground contact changed", logging.Bool("in_contact", inContact))
		c.contact = inContact
	}
	if !inContact || (c.mode != CommsModeTX && c.mode != CommsModeTXRX) {
		return
	}
	sent := uint64(float64(c.tmBitrate) * dt.Seconds())
	if sent >= c.tmBits {
		c.tmBits = 0
		return
	}
	c.tmBits -= sent
}

// ProcessCommand applies a COMMS command (IDs 40-49).
func (c *Comms) ProcessCommand(ctx context.Context, id uint16, payload []byte) error {
	if handled, err := c.hk.HandleCommon(id, payload); handled {
		return err
	}
	switch id {
	case model.CmdCommsSetMode:
		v, err := housekeeping.U8(payload)
		if err != nil {
			return err
		}
		if v > CommsModeTXRX {
			return fmt.Errorf("%w: comms mode %d", housekeeping.ErrInvalidParameter, v)
		}
		c.mode = v
		return nil
	case model.CmdCommsClearTMQueue:
		if err := housekeeping.Empty(payload); err != nil {
			return err
		}
		c.log.Info(ctx, "tm queue cleared", logging.Uint("bits", c.tmBits))
		c.tmBits = 0
		return nil
	case model.CmdCommsClearTCQueue:
		if err := housekeeping.Empty(payload); err != nil {
			return err
		}
		if c.tc != nil {
			n := c.tc.Clear()
			c.log.Info(ctx, "tc queue cleared", logging.Int("commands", n))
		}
		return nil
	case model.CmdCommsSetTMBitrate, model.CmdCommsSetTCBitrate:
		v, err := housekeeping.U32(payload)
		if err != nil {
			return err
		}
		if v == 0 {
			return fmt.Errorf("%w: bitrate must be positive", housekeeping.ErrInvalidParameter)
		}
		if id == model.CmdCommsSetTMBitrate {
			c.tmBitrate = v
		} else {
			c.tcBitrate = v
		}
		return nil
	}
	return unknown(model.SubsystemComms, id)
}

// Telemetry packs the common block, mode, TM and TC queue sizes in bits and
// both bitrates.
func (c *Comms) Telemetry() []byte {
	var tcBits uint64
	if c.tc != nil {
		tcBits = uint64(c.tc.PendingBytes()) * 8
	}
	r := housekeeping.NewRecord(24)
	c.hk.AppendCommon(r)
	return r.U8(c.mode).
		U32(saturate32(c.tmBits)).
		U32(saturate32(tcBits)).
		U32(c.tmBitrate).
		U32(c.tcBitrate).
		Bytes()
}

func saturate32(v uint64) uint32 {
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}

func unknown(sub model.SubsystemID, id uint16) error {
	return fmt.Errorf("%w: %s %d", housekeeping.ErrUnknownCommand, sub, id)
}
