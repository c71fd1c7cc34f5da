package subsystems

import (
	"context"
	"math"
	"time"

	"github.com/signalsfoundry/smallsat-twin/core"
	"github.com/signalsfoundry/smallsat-twin/internal/housekeeping"
	"github.com/signalsfoundry/smallsat-twin/internal/logging"
	"github.com/signalsfoundry/smallsat-twin/model"
)

// SolarConstant is the mean solar irradiance at 1 AU in W/m².
const SolarConstant = 1361.0

const powerTelemetryLen = 43

// PowerConfig configures the electrical power subsystem.
type PowerConfig struct {
	Housekeeping housekeeping.Config `mapstructure:",squash"`

	BatteryVoltage      float64 `mapstructure:"battery_voltage"`     // nominal V
	BatteryCapacityAh   float64 `mapstructure:"battery_capacity_ah"` // Ah
	BatteryCharge       float64 `mapstructure:"battery_charge"`      // percent
	ChargeEfficiency    float64 `mapstructure:"charge_efficiency"`
	DischargeEfficiency float64 `mapstructure:"discharge_efficiency"`

	PanelAreaX      float64 `mapstructure:"panel_area_x"` // m², each of ±X
	PanelAreaY      float64 `mapstructure:"panel_area_y"` // m², each of ±Y
	PanelEfficiency float64 `mapstructure:"panel_efficiency"`
}

// PanelPower is the generation of each body-mounted panel in watts.
type PanelPower struct {
	PlusX  float64 `json:"plus_x"`
	MinusX float64 `json:"minus_x"`
	PlusY  float64 `json:"plus_y"`
	MinusY float64 `json:"minus_y"`
}

// Total returns the summed panel output.
func (p PanelPower) Total() float64 { return p.PlusX + p.MinusX + p.PlusY + p.MinusY }

// Power models body-mounted solar panels charging a single battery.
type Power struct {
	hk  housekeeping.Housekeeping
	cfg PowerConfig
	log logging.Logger

	voltage float64
	current float64
	charge  float64
	balance float64
	panels  PanelPower
}

// NewPower returns a power subsystem initialised from cfg.
func NewPower(cfg PowerConfig, log logging.Logger) *Power {
	if log == nil {
		log = logging.Noop()
	}
	if cfg.ChargeEfficiency <= 0 {
		cfg.ChargeEfficiency = 1
	}
	if cfg.DischargeEfficiency <= 0 {
		cfg.DischargeEfficiency = 1
	}
	p := &Power{
		hk:     housekeeping.New(cfg.Housekeeping),
		cfg:    cfg,
		log:    log.With(logging.String("subsystem", model.SubsystemPower.String())),
		charge: clampPercent(cfg.BatteryCharge),
	}
	p.voltage = p.terminalVoltage()
	return p
}

func (p *Power) Housekeeping() housekeeping.Housekeeping { return p.hk }
func (p *Power) Panels() PanelPower                      { return p.panels }
func (p *Power) BatteryCharge() float64                  { return p.charge }
func (p *Power) BatteryVoltage() float64                 { return p.voltage }
func (p *Power) BatteryCurrent() float64                 { return p.current }
func (p *Power) Balance() float64                        { return p.balance }

// Update computes panel generation for the spacecraft attitude q and
// integrates the battery over dt against loadW. When the Sun direction is
// degenerate the panels produce nothing and the error is returned.
func (p *Power) Update(ctx context.Context, orbit model.OrbitState, q model.Quaternion, loadW float64, dt time.Duration) error {
	p.hk.Step(dt, orbit.Eclipse)

	var genErr error
	p.panels = PanelPower{}
	if !orbit.Eclipse {
		angles, err := core.SolarIllumination(orbit.Position, orbit.Sun, q)
		if err != nil {
			genErr = err
		} else {
			p.panels = PanelPower{
				PlusX:  p.panelOutput(p.cfg.PanelAreaX, angles.PlusX),
				MinusX: p.panelOutput(p.cfg.PanelAreaX, angles.MinusX),
				PlusY:  p.panelOutput(p.cfg.PanelAreaY, angles.PlusY),
				MinusY: p.panelOutput(p.cfg.PanelAreaY, angles.MinusY),
			}
		}
	}

	before := p.charge
	p.balance = p.panels.Total() - loadW
	p.integrate(dt)

	if before > 20 && p.charge <= 20 {
		p.log.Warn(ctx, "battery charge below 20%", logging.Float("charge_pct", p.charge))
	}
	return genErr
}

func (p *Power) panelOutput(area, angleDeg float64) float64 {
	if !core.Illuminated(angleDeg) {
		return 0
	}
	return SolarConstant * area * p.cfg.PanelEfficiency * math.Cos(angleDeg*math.Pi/180)
}

func (p *Power) integrate(dt time.Duration) {
	capacityWh := p.cfg.BatteryVoltage * p.cfg.BatteryCapacityAh
	if capacityWh <= 0 {
		return
	}
	flow := p.balance * p.cfg.ChargeEfficiency
	if p.balance < 0 {
		flow = p.balance / p.cfg.DischargeEfficiency
	}
	p.charge = clampPercent(p.charge + flow*dt.Hours()/capacityWh*100)
	p.voltage = p.terminalVoltage()
	if p.voltage > 0 {
		p.current = p.balance / p.voltage
	}
}

// terminalVoltage sags linearly to 85% of nominal at empty.
func (p *Power) terminalVoltage() float64 {
	return p.cfg.BatteryVoltage * (0.85 + 0.15*p.charge/100)
}

func clampPercent(v float64) float64 { return math.Min(math.Max(v, 0), 100) }

// ProcessCommand applies a POWER command (IDs 20-29).
func (p *Power) ProcessCommand(_ context.Context, id uint16, payload []byte) error {
	if handled, err := p.hk.HandleCommon(id, payload); handled {
		return err
	}
	return unknown(model.SubsystemPower, id)
}

// Telemetry packs state, temperature, heater setpoint, power draw, battery
// voltage, current, charge, power balance, total generation and the +X, -X,
// +Y, -Y panel outputs.
func (p *Power) Telemetry() []byte {
	r := housekeeping.NewRecord(powerTelemetryLen)
	p.hk.AppendCommon(r)
	r.F32(p.voltage).F32(p.current).F32(p.charge).F32(p.balance).F32(p.panels.Total())
	r.F32(p.panels.PlusX).F32(p.panels.MinusX).F32(p.panels.PlusY).F32(p.panels.MinusY)
	return r.Bytes()
}
