package model

import "fmt"

// SubsystemID names a spacecraft subsystem. The numeric values are the
// command decade the subsystem owns (ID / 10).
type SubsystemID uint8

const (
	SubsystemOBC       SubsystemID = 1
	SubsystemPower     SubsystemID = 2
	SubsystemADCS      SubsystemID = 3
	SubsystemComms     SubsystemID = 4
	SubsystemPayload   SubsystemID = 5
	SubsystemDatastore SubsystemID = 6

	// SubsystemCDH has no command decade of its own.
	SubsystemCDH SubsystemID = 0
)

func (s SubsystemID) String() string {
	switch s {
	case SubsystemOBC:
		return "OBC"
	case SubsystemCDH:
		return "CDH"
	case SubsystemPower:
		return "POWER"
	case SubsystemADCS:
		return "ADCS"
	case SubsystemComms:
		return "COMMS"
	case SubsystemPayload:
		return "PAYLOAD"
	case SubsystemDatastore:
		return "DATASTORE"
	default:
		return fmt.Sprintf("Subsystem(%d)", uint8(s))
	}
}

// Command is a decoded telecommand awaiting dispatch.
type Command struct {
	ID      uint16
	Payload []byte
}

// Subsystem returns the owning subsystem of the command ID and whether the
// ID falls inside any assigned decade (10..69).
func (c Command) Subsystem() (SubsystemID, bool) {
	return SubsystemForCommand(c.ID)
}

// SubsystemForCommand maps a command ID to the subsystem owning its decade.
func SubsystemForCommand(id uint16) (SubsystemID, bool) {
	if id < 10 || id > 69 {
		return 0, false
	}
	return SubsystemID(id / 10), true
}

// Common per-subsystem command offsets within a decade.
const (
	OffsetSetState          = 0
	OffsetSetHeater         = 1
	OffsetSetHeaterSetpoint = 2
)

// Command IDs.
const (
	CmdOBCSetMode uint16 = 13
	CmdOBCReset   uint16 = 14

	CmdADCSSetState          uint16 = 30
	CmdADCSSetHeater         uint16 = 31
	CmdADCSSetHeaterSetpoint uint16 = 32
	CmdADCSSetMode           uint16 = 33
	CmdADCSSetQuaternion     uint16 = 34

	CmdCommsSetMode      uint16 = 43
	CmdCommsClearTMQueue uint16 = 44
	CmdCommsClearTCQueue uint16 = 45
	CmdCommsSetTMBitrate uint16 = 46
	CmdCommsSetTCBitrate uint16 = 47

	CmdPayloadSetMode         uint16 = 53
	CmdPayloadStartCollection uint16 = 54
	CmdPayloadStopCollection  uint16 = 55
	CmdPayloadClearData       uint16 = 56

	CmdDatastoreClear            uint16 = 63
	CmdDatastoreDeleteLastFile   uint16 = 64
	CmdDatastoreTransferFile     uint16 = 65
	CmdDatastoreTransferLastFile uint16 = 66
)
