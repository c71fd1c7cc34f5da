package ccsds

import (
	"encoding/binary"
	"fmt"
)

// Command is a decoded telecommand packet.
type Command struct {
	Header PrimaryHeader
	// MET is the secondary header value when Header.SecondaryHeader is set.
	MET    uint32
	ID     uint16
	Params []byte
}

// DecodeCommand parses a telecommand datagram: primary header, optional MET
// secondary header, 16-bit command ID and parameter bytes. Bytes past the
// length declared in the header are ignored.
func DecodeCommand(b []byte) (Command, error) {
	h, err := DecodePrimaryHeader(b)
	if err != nil {
		return Command{}, err
	}
	if h.Version != 0 {
		return Command{}, &DecodeError{Field: "version", Reason: fmt.Sprintf("unsupported version %d", h.Version)}
	}
	if h.PacketLen() > len(b) {
		return Command{}, &DecodeError{
			Field:  "length",
			Reason: fmt.Sprintf("header declares %d bytes, datagram has %d", h.PacketLen(), len(b)),
		}
	}
	body := b[PrimaryHeaderLen:h.PacketLen()]

	cmd := Command{Header: h}
	if h.SecondaryHeader {
		if len(body) < SecondaryHeaderLen {
			return Command{}, &DecodeError{Field: "secondary header", Reason: "truncated"}
		}
		cmd.MET = binary.BigEndian.Uint32(body)
		body = body[SecondaryHeaderLen:]
	}
	if len(body) < 2 {
		return Command{}, &DecodeError{Field: "command id", Reason: "truncated"}
	}
	cmd.ID = binary.BigEndian.Uint16(body)
	cmd.Params = append([]byte(nil), body[2:]...)
	return cmd, nil
}

// EncodeCommand builds a telecommand packet. withMET controls whether the
// secondary header is present.
func EncodeCommand(apid, seq uint16, withMET bool, met uint32, id uint16, params []byte) ([]byte, error) {
	var secondary []byte
	if withMET {
		secondary = SecondaryHeaderBytes(met)
	}
	data := binary.BigEndian.AppendUint16(make([]byte, 0, 2+len(params)), id)
	data = append(data, params...)
	return EncodePacket(PrimaryHeader{
		Type:          Telecommand,
		APID:          apid,
		SequenceFlags: SequenceFlagsStandalone,
		SequenceCount: seq & MaxSequenceCount,
	}, secondary, data)
}
