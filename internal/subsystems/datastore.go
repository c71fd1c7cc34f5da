package subsystems

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/smallsat-twin/internal/housekeeping"
	"github.com/signalsfoundry/smallsat-twin/internal/logging"
	"github.com/signalsfoundry/smallsat-twin/model"
)

var (
	// ErrStorageFull is returned when a file does not fit the remaining space.
	ErrStorageFull = errors.New("datastore full")
	// ErrNoFiles is returned by file operations on an empty datastore.
	ErrNoFiles = fmt.Errorf("%w: datastore holds no files", housekeeping.ErrInvalidParameter)
)

// File is a stored payload product.
type File struct {
	Name   string  `json:"name"`
	SizeMB float64 `json:"size_mb"`
}

// Transfer tracks an in-progress file downlink.
type Transfer struct {
	File          File
	TransferredMB float64
}

// DatastoreConfig configures mass storage.
type DatastoreConfig struct {
	Housekeeping   housekeeping.Config `mapstructure:",squash"`
	StorageTotalMB float64             `mapstructure:"storage_total_mb"`
	ReadSpeedMBps  float64             `mapstructure:"read_speed_mbps"`
}

// Datastore is on-board mass storage holding payload files in write order.
type Datastore struct {
	hk       housekeeping.Housekeeping
	cfg      DatastoreConfig
	files    []File
	usedMB   float64
	transfer *Transfer
	log      logging.Logger
}

// NewDatastore returns an empty datastore.
func NewDatastore(cfg DatastoreConfig, log logging.Logger) *Datastore {
	if log == nil {
		log = logging.Noop()
	}
	return &Datastore{
		hk:  housekeeping.New(cfg.Housekeeping),
		cfg: cfg,
		log: log.With(logging.String("subsystem", model.SubsystemDatastore.String())),
	}
}

// Files returns a copy of the stored files, oldest first.
func (d *Datastore) Files() []File { return append([]File(nil), d.files...) }

// RemainingMB returns the free space.
func (d *Datastore) RemainingMB() float64 { return d.cfg.StorageTotalMB - d.usedMB }

// ActiveTransfer returns the file being downlinked, if any.
func (d *Datastore) ActiveTransfer() (Transfer, bool) {
	if d.transfer == nil {
		return Transfer{}, false
	}
	return *d.transfer, true
}

func (d *Datastore) Housekeeping() housekeeping.Housekeeping { return d.hk }

// Store appends a file.
func (d *Datastore) Store(name string, sizeMB float64) error {
	if sizeMB > d.RemainingMB() {
		return fmt.Errorf("%w: %s needs %.3f MB, %.3f MB free", ErrStorageFull, name, sizeMB, d.RemainingMB())
	}
	d.files = append(d.files, File{Name: name, SizeMB: sizeMB})
	d.usedMB += sizeMB
	return nil
}

// Update advances the thermal state and any active transfer.
func (d *Datastore) Update(ctx context.Context, dt time.Duration, eclipse bool) {
	d.hk.Step(dt, eclipse)
	if d.transfer == nil {
		return
	}
	d.transfer.TransferredMB += d.cfg.ReadSpeedMBps * dt.Seconds()
	if d.transfer.TransferredMB >= d.transfer.File.SizeMB {
		d.log.Info(ctx, "file transfer complete", logging.String("file", d.transfer.File.Name))
		d.transfer = nil
	}
}

// ProcessCommand applies a DATASTORE command (IDs 60-69).
func (d *Datastore) ProcessCommand(ctx context.Context, id uint16, payload []byte) error {
	if handled, err := d.hk.HandleCommon(id, payload); handled {
		return err
	}
	switch id {
	case model.CmdDatastoreClear:
		if err := housekeeping.Empty(payload); err != nil {
			return err
		}
		d.log.Info(ctx, "datastore cleared", logging.Int("files", len(d.files)))
		d.files, d.usedMB, d.transfer = nil, 0, nil
		return nil

	case model.CmdDatastoreDeleteLastFile:
		if err := housekeeping.Empty(payload); err != nil {
			return err
		}
		if len(d.files) == 0 {
			return ErrNoFiles
		}
		last := d.files[len(d.files)-1]
		d.files = d.files[:len(d.files)-1]
		d.usedMB -= last.SizeMB
		if d.transfer != nil && d.transfer.File == last {
			d.transfer = nil
		}
		d.log.Info(ctx, "deleted last file", logging.String("file", last.Name))
		return nil

	case model.CmdDatastoreTransferFile:
		name := string(bytes.TrimRight(payload, "\x00"))
		if name == "" {
			return fmt.Errorf("%w: empty file name", housekeeping.ErrMalformedPayload)
		}
		for _, f := range d.files {
			if f.Name == name {
				d.startTransfer(ctx, f)
				return nil
			}
		}
		return fmt.Errorf("%w: file %q not found", housekeeping.ErrInvalidParameter, name)

	case model.CmdDatastoreTransferLastFile:
		if err := housekeeping.Empty(payload); err != nil {
			return err
		}
		if len(d.files) == 0 {
			return ErrNoFiles
		}
		d.startTransfer(ctx, d.files[len(d.files)-1])
		return nil
	}
	return unknown(model.SubsystemDatastore, id)
}

func (d *Datastore) startTransfer(ctx context.Context, f File) {
	d.transfer = &Transfer{File: f}
	d.log.Info(ctx, "file transfer started", logging.String("file", f.Name), logging.Float("size_mb", f.SizeMB))
}

// Telemetry packs the common block, remaining storage in MB and the file
// count.
func (d *Datastore) Telemetry() []byte {
	r := housekeeping.NewRecord(15)
	d.hk.AppendCommon(r)
	return r.F32(d.RemainingMB()).U32(uint32(len(d.files))).Bytes()
}
