package subsystems

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/smallsat-twin/core"
	"github.com/signalsfoundry/smallsat-twin/internal/housekeeping"
	"github.com/signalsfoundry/smallsat-twin/model"
)

func assertNear(t *testing.T, name string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Fatalf("%s = %v, want %v (±%v)", name, got, want, tol)
	}
}

func f32(b []byte) float64 { return float64(math.Float32frombits(binary.BigEndian.Uint32(b))) }

func be32(v float32) []byte { return binary.BigEndian.AppendUint32(nil, math.Float32bits(v)) }

func TestOBCCommands(t *testing.T) {
	ctx := context.Background()
	o := NewOBC(OBCConfig{
		Housekeeping: housekeeping.Config{State: 2, Temperature: 20, HeaterOn: true, HeaterSetpoint: 25, PowerDraw: 2.5},
		Mode:         OBCModeNominal,
	}, nil)

	if err := o.ProcessCommand(ctx, model.CmdOBCSetMode, []byte{OBCModePayload}); err != nil {
		t.Fatalf("SET_MODE: %v", err)
	}
	if o.Mode() != OBCModePayload {
		t.Fatalf("mode = %d", o.Mode())
	}
	if err := o.ProcessCommand(ctx, model.CmdOBCSetMode, []byte{7}); !errors.Is(err, housekeeping.ErrInvalidParameter) {
		t.Fatalf("SET_MODE 7: err = %v", err)
	}
	if err := o.ProcessCommand(ctx, 12, be32(30)); err != nil {
		t.Fatalf("SET_HEATER_SETPOINT: %v", err)
	}
	if o.Housekeeping().HeaterSetpoint != 30 {
		t.Fatalf("setpoint = %v", o.Housekeeping().HeaterSetpoint)
	}

	if err := o.ProcessCommand(ctx, model.CmdOBCReset, nil); err != nil {
		t.Fatalf("RESET: %v", err)
	}
	hk := o.Housekeeping()
	if hk.State != 0 || hk.HeaterOn || hk.HeaterSetpoint != 0 || o.Mode() != OBCModeSafe {
		t.Fatalf("after reset: %+v mode %d", hk, o.Mode())
	}
	if err := o.ProcessCommand(ctx, model.CmdOBCReset, []byte{1}); !errors.Is(err, housekeeping.ErrMalformedPayload) {
		t.Fatalf("RESET with payload: err = %v", err)
	}
	if err := o.ProcessCommand(ctx, 19, nil); !errors.Is(err, housekeeping.ErrUnknownCommand) {
		t.Fatalf("unknown id: err = %v", err)
	}

	tm := o.Telemetry()
	if len(tm) != 8 || tm[0] != 0 || tm[1] != 20 || tm[7] != OBCModeSafe {
		t.Fatalf("telemetry = % x", tm)
	}
	assertNear(t, "power draw", f32(tm[3:7]), 2.5, 1e-6)
}

func powerOrbit(eclipse bool) model.OrbitState {
	return model.OrbitState{
		Position: r3.Vec{X: 7000},
		Sun:      r3.Vec{X: core.AstronomicalUnitKm},
		Eclipse:  eclipse,
	}
}

func newTestPower(charge float64) *Power {
	return NewPower(PowerConfig{
		Housekeeping:        housekeeping.Config{State: 1, Temperature: 20, PowerDraw: 0.5},
		BatteryVoltage:      7.4,
		BatteryCapacityAh:   10,
		BatteryCharge:       charge,
		ChargeEfficiency:    0.95,
		DischargeEfficiency: 1,
		PanelAreaX:          0.03,
		PanelAreaY:          0.1,
		PanelEfficiency:     0.3,
	}, nil)
}

func TestPowerSunlitGeneration(t *testing.T) {
	p := newTestPower(50)
	if err := p.Update(context.Background(), powerOrbit(false), model.IdentityQuaternion, 0, time.Hour); err != nil {
		t.Fatalf("Update: %v", err)
	}

	want := SolarConstant * 0.03 * 0.3
	panels := p.Panels()
	assertNear(t, "+X", panels.PlusX, want, 1e-9)
	assertNear(t, "-X", panels.MinusX, 0, 1e-9)
	assertNear(t, "+Y", panels.PlusY, 0, 1e-6)
	assertNear(t, "-Y", panels.MinusY, 0, 1e-6)
	assertNear(t, "balance", p.Balance(), want, 1e-6)

	// 12.249 W × 0.95 for one hour into a 74 Wh battery.
	assertNear(t, "charge", p.BatteryCharge(), 50+want*0.95/74*100, 1e-6)
	if p.BatteryCurrent() <= 0 {
		t.Fatalf("charging current = %v, want positive", p.BatteryCurrent())
	}
}

func TestPowerRotatedPanels(t *testing.T) {
	p := newTestPower(50)
	// 90° about Z moves body +Y onto inertial -X, so the Sun (+X) falls on -Y.
	q := model.Quaternion{0, 0, math.Sin(math.Pi / 4), math.Cos(math.Pi / 4)}
	if err := p.Update(context.Background(), powerOrbit(false), q, 0, time.Second); err != nil {
		t.Fatalf("Update: %v", err)
	}
	assertNear(t, "-Y", p.Panels().MinusY, SolarConstant*0.1*0.3, 1e-6)
	assertNear(t, "+X", p.Panels().PlusX, 0, 1e-6)
}

func TestPowerEclipseDischarges(t *testing.T) {
	p := newTestPower(50)
	if err := p.Update(context.Background(), powerOrbit(true), model.IdentityQuaternion, 7.4, time.Hour); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if p.Panels().Total() != 0 {
		t.Fatalf("eclipse generation = %v", p.Panels().Total())
	}
	assertNear(t, "charge", p.BatteryCharge(), 40, 1e-9)
	if p.BatteryCurrent() >= 0 {
		t.Fatalf("discharge current = %v, want negative", p.BatteryCurrent())
	}
}

func TestPowerChargeClamped(t *testing.T) {
	full := newTestPower(100)
	_ = full.Update(context.Background(), powerOrbit(false), model.IdentityQuaternion, 0, time.Hour)
	if full.BatteryCharge() != 100 {
		t.Fatalf("charge = %v, want 100", full.BatteryCharge())
	}
	assertNear(t, "voltage", full.BatteryVoltage(), 7.4, 1e-9)

	empty := newTestPower(1)
	_ = empty.Update(context.Background(), powerOrbit(true), model.IdentityQuaternion, 100, time.Hour)
	if empty.BatteryCharge() != 0 {
		t.Fatalf("charge = %v, want 0", empty.BatteryCharge())
	}
}

func TestPowerDegenerateSunVector(t *testing.T) {
	p := newTestPower(50)
	orbit := powerOrbit(false)
	orbit.Sun = orbit.Position
	err := p.Update(context.Background(), orbit, model.IdentityQuaternion, 1, time.Second)
	if !errors.Is(err, core.ErrDegenerateSunVector) {
		t.Fatalf("err = %v, want ErrDegenerateSunVector", err)
	}
	if p.Panels().Total() != 0 {
		t.Fatalf("generation = %v", p.Panels().Total())
	}
}

func TestPowerTelemetryLayout(t *testing.T) {
	p := newTestPower(50)
	_ = p.Update(context.Background(), powerOrbit(false), model.IdentityQuaternion, 0, time.Second)
	tm := p.Telemetry()
	if len(tm) != powerTelemetryLen {
		t.Fatalf("len = %d, want %d", len(tm), powerTelemetryLen)
	}
	assertNear(t, "charge", f32(tm[15:19]), p.BatteryCharge(), 1e-3)
	assertNear(t, "solar total", f32(tm[23:27]), p.Panels().Total(), 1e-3)
	assertNear(t, "+X", f32(tm[27:31]), p.Panels().PlusX, 1e-3)

	if err := p.ProcessCommand(context.Background(), 25, nil); !errors.Is(err, housekeeping.ErrUnknownCommand) {
		t.Fatalf("unknown id: err = %v", err)
	}
}

type fakeQueue struct{ pending, cleared int }

func (q *fakeQueue) PendingBytes() int { return q.pending }
func (q *fakeQueue) Clear() int {
	n := q.pending
	q.pending, q.cleared = 0, q.cleared+1
	return n
}

func TestCommsBacklogDrainsOnlyInContact(t *testing.T) {
	ctx := context.Background()
	c := NewComms(CommsConfig{Mode: CommsModeTXRX, TMBitrate: 1000, TCBitrate: 500}, nil, nil)
	c.QueueTelemetry(500) // 4000 bits

	c.Update(ctx, time.Second, false, false)
	if c.TMQueueBits() != 4000 {
		t.Fatalf("backlog out of contact = %d, want 4000", c.TMQueueBits())
	}
	c.Update(ctx, time.Second, false, true)
	if c.TMQueueBits() != 3000 || !c.InContact() {
		t.Fatalf("backlog = %d, want 3000", c.TMQueueBits())
	}
	c.Update(ctx, 10*time.Second, false, true)
	if c.TMQueueBits() != 0 {
		t.Fatalf("backlog = %d, want 0", c.TMQueueBits())
	}

	c.QueueTelemetry(10)
	if err := c.ProcessCommand(ctx, model.CmdCommsSetMode, []byte{CommsModeRX}); err != nil {
		t.Fatalf("SET_MODE: %v", err)
	}
	c.Update(ctx, time.Second, false, true)
	if c.TMQueueBits() != 80 {
		t.Fatalf("receive-only radio drained backlog to %d", c.TMQueueBits())
	}
}

func TestCommsCommands(t *testing.T) {
	ctx := context.Background()
	q := &fakeQueue{pending: 6}
	c := NewComms(CommsConfig{Housekeeping: housekeeping.Config{State: 1}, TMBitrate: 9600, TCBitrate: 1200}, q, nil)
	c.QueueTelemetry(100)

	if err := c.ProcessCommand(ctx, model.CmdCommsSetTMBitrate, binary.BigEndian.AppendUint32(nil, 38400)); err != nil {
		t.Fatalf("SET_TM_BITRATE: %v", err)
	}
	if err := c.ProcessCommand(ctx, model.CmdCommsSetTCBitrate, binary.BigEndian.AppendUint32(nil, 2400)); err != nil {
		t.Fatalf("SET_TC_BITRATE: %v", err)
	}
	if c.TMBitrate() != 38400 || c.TCBitrate() != 2400 {
		t.Fatalf("bitrates = %d/%d", c.TMBitrate(), c.TCBitrate())
	}
	if err := c.ProcessCommand(ctx, model.CmdCommsSetTMBitrate, []byte{0, 0, 0, 0}); !errors.Is(err, housekeeping.ErrInvalidParameter) {
		t.Fatalf("zero bitrate: err = %v", err)
	}
	if err := c.ProcessCommand(ctx, model.CmdCommsSetMode, []byte{4}); !errors.Is(err, housekeeping.ErrInvalidParameter) {
		t.Fatalf("mode 4: err = %v", err)
	}

	tm := c.Telemetry()
	if len(tm) != 24 {
		t.Fatalf("telemetry len = %d", len(tm))
	}
	if got := binary.BigEndian.Uint32(tm[8:]); got != 800 {
		t.Fatalf("tm queue = %d bits, want 800", got)
	}
	if got := binary.BigEndian.Uint32(tm[12:]); got != 48 {
		t.Fatalf("tc queue = %d bits, want 48", got)
	}
	if got := binary.BigEndian.Uint32(tm[16:]); got != 38400 {
		t.Fatalf("tm bitrate = %d", got)
	}

	if err := c.ProcessCommand(ctx, model.CmdCommsClearTMQueue, nil); err != nil || c.TMQueueBits() != 0 {
		t.Fatalf("CLEAR_TM_QUEUE: err %v backlog %d", err, c.TMQueueBits())
	}
	if err := c.ProcessCommand(ctx, model.CmdCommsClearTCQueue, nil); err != nil || q.cleared != 1 || q.pending != 0 {
		t.Fatalf("CLEAR_TC_QUEUE: err %v queue %+v", err, q)
	}
}

func TestPayloadCollectionStoresFile(t *testing.T) {
	ctx := context.Background()
	ds := NewDatastore(DatastoreConfig{StorageTotalMB: 1024, ReadSpeedMBps: 5}, nil)
	p := NewPayload(PayloadConfig{Housekeeping: housekeeping.Config{State: 0}, DataRateBps: 8 * 1024 * 1024}, ds, nil)

	if err := p.ProcessCommand(ctx, model.CmdPayloadStartCollection, nil); !errors.Is(err, housekeeping.ErrInvalidParameter) {
		t.Fatalf("start while off: err = %v", err)
	}
	if p.Mode() != PayloadModeIdle {
		t.Fatalf("mode = %d after rejected start", p.Mode())
	}

	if err := p.ProcessCommand(ctx, 50, []byte{StateOn}); err != nil {
		t.Fatalf("SET_STATE: %v", err)
	}
	if err := p.ProcessCommand(ctx, model.CmdPayloadStartCollection, nil); err != nil {
		t.Fatalf("START_COLLECTION: %v", err)
	}
	if p.Status() != PayloadStatusBusy {
		t.Fatalf("status = %d, want busy", p.Status())
	}
	for i := 0; i < 3; i++ {
		p.Update(ctx, time.Second, false)
	}
	assertNear(t, "collected", p.CollectedBytes(), 3*1024*1024, 1e-6)

	if err := p.ProcessCommand(ctx, model.CmdPayloadStopCollection, nil); err != nil {
		t.Fatalf("STOP_COLLECTION: %v", err)
	}
	files := ds.Files()
	if len(files) != 1 || files[0].Name != "payload_0001.dat" {
		t.Fatalf("files = %+v", files)
	}
	assertNear(t, "file size", files[0].SizeMB, 3, 1e-9)
	assertNear(t, "remaining", ds.RemainingMB(), 1021, 1e-9)
	if p.CollectedBytes() != 0 || p.Status() != PayloadStatusReady {
		t.Fatalf("payload not reset after stop")
	}
	if tm := p.Telemetry(); len(tm) != 8 || tm[7] != PayloadStatusReady {
		t.Fatalf("telemetry = % x", tm)
	}
}

func TestPayloadStopWithFullDatastore(t *testing.T) {
	ctx := context.Background()
	ds := NewDatastore(DatastoreConfig{StorageTotalMB: 1}, nil)
	p := NewPayload(PayloadConfig{Housekeeping: housekeeping.Config{State: StateOn}, DataRateBps: 8 * 1024 * 1024}, ds, nil)
	_ = p.ProcessCommand(ctx, model.CmdPayloadStartCollection, nil)
	p.Update(ctx, 2*time.Second, false)

	if err := p.ProcessCommand(ctx, model.CmdPayloadStopCollection, nil); !errors.Is(err, ErrStorageFull) {
		t.Fatalf("err = %v, want ErrStorageFull", err)
	}
	if len(ds.Files()) != 0 {
		t.Fatalf("file stored despite full datastore")
	}
	if err := p.ProcessCommand(ctx, model.CmdPayloadClearData, nil); err != nil || p.CollectedBytes() != 0 {
		t.Fatalf("CLEAR_DATA: err %v collected %v", err, p.CollectedBytes())
	}
}

func TestDatastoreCommands(t *testing.T) {
	ctx := context.Background()
	ds := NewDatastore(DatastoreConfig{StorageTotalMB: 100, ReadSpeedMBps: 5}, nil)

	if err := ds.ProcessCommand(ctx, model.CmdDatastoreDeleteLastFile, nil); !errors.Is(err, ErrNoFiles) {
		t.Fatalf("delete on empty: err = %v", err)
	}
	if err := ds.ProcessCommand(ctx, model.CmdDatastoreTransferLastFile, nil); !errors.Is(err, housekeeping.ErrInvalidParameter) {
		t.Fatalf("transfer on empty: err = %v", err)
	}

	for _, f := range []File{{"a.dat", 10}, {"b.dat", 20}, {"c.dat", 30}} {
		if err := ds.Store(f.Name, f.SizeMB); err != nil {
			t.Fatalf("Store(%s): %v", f.Name, err)
		}
	}
	if err := ds.Store("d.dat", 41); !errors.Is(err, ErrStorageFull) {
		t.Fatalf("overflow: err = %v", err)
	}

	if err := ds.ProcessCommand(ctx, model.CmdDatastoreDeleteLastFile, nil); err != nil {
		t.Fatalf("DELETE_LAST_FILE: %v", err)
	}
	assertNear(t, "remaining", ds.RemainingMB(), 70, 1e-9)

	name := append([]byte("a.dat"), 0, 0, 0)
	if err := ds.ProcessCommand(ctx, model.CmdDatastoreTransferFile, name); err != nil {
		t.Fatalf("TRANSFER_FILE: %v", err)
	}
	tr, ok := ds.ActiveTransfer()
	if !ok || tr.File.Name != "a.dat" {
		t.Fatalf("transfer = %+v, %v", tr, ok)
	}
	ds.Update(ctx, time.Second, false)
	if tr, _ := ds.ActiveTransfer(); tr.TransferredMB != 5 {
		t.Fatalf("transferred = %v, want 5", tr.TransferredMB)
	}
	ds.Update(ctx, time.Second, false)
	if _, ok := ds.ActiveTransfer(); ok {
		t.Fatalf("transfer still active after 10 MB")
	}

	if err := ds.ProcessCommand(ctx, model.CmdDatastoreTransferFile, []byte("missing")); !errors.Is(err, housekeeping.ErrInvalidParameter) {
		t.Fatalf("missing file: err = %v", err)
	}
	if err := ds.ProcessCommand(ctx, model.CmdDatastoreTransferLastFile, nil); err != nil {
		t.Fatalf("TRANSFER_LAST_FILE: %v", err)
	}
	if tr, _ := ds.ActiveTransfer(); tr.File.Name != "b.dat" {
		t.Fatalf("last-file transfer = %+v", tr)
	}

	tm := ds.Telemetry()
	if len(tm) != 15 {
		t.Fatalf("telemetry len = %d", len(tm))
	}
	assertNear(t, "remaining", f32(tm[7:11]), 70, 1e-6)
	if n := binary.BigEndian.Uint32(tm[11:]); n != 2 {
		t.Fatalf("file count = %d", n)
	}

	if err := ds.ProcessCommand(ctx, model.CmdDatastoreClear, nil); err != nil {
		t.Fatalf("CLEAR: %v", err)
	}
	if len(ds.Files()) != 0 || ds.RemainingMB() != 100 {
		t.Fatalf("datastore not cleared")
	}
	if _, ok := ds.ActiveTransfer(); ok {
		t.Fatalf("transfer survived clear")
	}
}
