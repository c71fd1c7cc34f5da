// Package ccsds encodes and decodes CCSDS Space Packets: the 6-byte primary
// header, the 4-byte mission-elapsed-time secondary header and telecommand
// bodies carrying a 16-bit command ID.
package ccsds

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	PrimaryHeaderLen   = 6
	SecondaryHeaderLen = 4

	MaxVersion       = 0x7
	MaxAPID          = 0x7FF
	MaxSequenceFlags = 0x3
	MaxSequenceCount = 0x3FFF

	// SequenceCountModulo is the wrap point of the 14-bit sequence counter.
	SequenceCountModulo = MaxSequenceCount + 1

	// SequenceFlagsStandalone marks an unsegmented packet.
	SequenceFlagsStandalone = 0x3

	// MaxPacketLen is the largest packet the 16-bit length field can describe.
	MaxPacketLen = PrimaryHeaderLen + 0xFFFF + 1
)

// PacketType is the single-bit packet type field.
type PacketType uint8

const (
	Telemetry   PacketType = 0
	Telecommand PacketType = 1
)

func (t PacketType) String() string {
	if t == Telecommand {
		return "TC"
	}
	return "TM"
}

var (
	// ErrShortPacket is returned when fewer bytes than a header are available.
	ErrShortPacket = errors.New("ccsds: packet shorter than header")
	// ErrEmptyPacket is returned when encoding a packet with no data field.
	ErrEmptyPacket = errors.New("ccsds: packet data field is empty")
)

// FieldRangeError reports a header field that does not fit its bit width.
type FieldRangeError struct {
	Field string
	Value uint64
	Max   uint64
}

func (e *FieldRangeError) Error() string {
	return fmt.Sprintf("ccsds: %s %d exceeds %d", e.Field, e.Value, e.Max)
}

// DecodeError reports malformed input on decode.
type DecodeError struct {
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("ccsds: decode %s: %s", e.Field, e.Reason)
}

// PrimaryHeader is the CCSDS Space Packet primary header.
type PrimaryHeader struct {
	Version         uint8
	Type            PacketType
	SecondaryHeader bool
	APID            uint16
	SequenceFlags   uint8
	SequenceCount   uint16
	// DataLength is the on-wire length field: octets after the primary
	// header minus one.
	DataLength uint16
}

// Validate checks every field fits its bit width.
func (h PrimaryHeader) Validate() error {
	switch {
	case h.Version > MaxVersion:
		return &FieldRangeError{Field: "version", Value: uint64(h.Version), Max: MaxVersion}
	case h.Type > Telecommand:
		return &FieldRangeError{Field: "type", Value: uint64(h.Type), Max: uint64(Telecommand)}
	case h.APID > MaxAPID:
		return &FieldRangeError{Field: "apid", Value: uint64(h.APID), Max: MaxAPID}
	case h.SequenceFlags > MaxSequenceFlags:
		return &FieldRangeError{Field: "sequence flags", Value: uint64(h.SequenceFlags), Max: MaxSequenceFlags}
	case h.SequenceCount > MaxSequenceCount:
		return &FieldRangeError{Field: "sequence count", Value: uint64(h.SequenceCount), Max: MaxSequenceCount}
	}
	return nil
}

// Words returns the two packed identification words.
func (h PrimaryHeader) Words() (uint16, uint16, error) {
	if err := h.Validate(); err != nil {
		return 0, 0, err
	}
	first := uint16(h.Version)<<13 | uint16(h.Type)<<12 | h.APID
	if h.SecondaryHeader {
		first |= 1 << 11
	}
	second := uint16(h.SequenceFlags)<<14 | h.SequenceCount
	return first, second, nil
}

// AppendBinary appends the 6-byte encoded header to b.
func (h PrimaryHeader) AppendBinary(b []byte) ([]byte, error) {
	first, second, err := h.Words()
	if err != nil {
		return b, err
	}
	b = binary.BigEndian.AppendUint16(b, first)
	b = binary.BigEndian.AppendUint16(b, second)
	return binary.BigEndian.AppendUint16(b, h.DataLength), nil
}

// DecodePrimaryHeader parses the first six bytes of b.
func DecodePrimaryHeader(b []byte) (PrimaryHeader, error) {
	if len(b) < PrimaryHeaderLen {
		return PrimaryHeader{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(b))
	}
	first := binary.BigEndian.Uint16(b[0:])
	second := binary.BigEndian.Uint16(b[2:])
	return PrimaryHeader{
		Version:         uint8(first >> 13),
		Type:            PacketType(first >> 12 & 0x1),
		SecondaryHeader: first&(1<<11) != 0,
		APID:            first & MaxAPID,
		SequenceFlags:   uint8(second >> 14),
		SequenceCount:   second & MaxSequenceCount,
		DataLength:      binary.BigEndian.Uint16(b[4:]),
	}, nil
}

// PacketLen returns the total on-wire length described by the header.
func (h PrimaryHeader) PacketLen() int { return PrimaryHeaderLen + int(h.DataLength) + 1 }

// MissionElapsedSeconds returns whole seconds from epoch to now, truncated.
// Instants before the epoch yield zero.
func MissionElapsedSeconds(epoch, now time.Time) uint32 {
	d := now.Sub(epoch)
	if d < 0 {
		return 0
	}
	secs := int64(d / time.Second)
	if secs > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(secs)
}

// EncodePacket builds a complete packet from h, an optional secondary
// header and the user data. DataLength is computed.
func EncodePacket(h PrimaryHeader, secondary, data []byte) ([]byte, error) {
	n := len(secondary) + len(data)
	if n == 0 {
		return nil, ErrEmptyPacket
	}
	if n > 0xFFFF+1 {
		return nil, &FieldRangeError{Field: "data length", Value: uint64(n), Max: 0xFFFF + 1}
	}
	h.SecondaryHeader = len(secondary) > 0
	h.DataLength = uint16(n - 1)

	out := make([]byte, 0, PrimaryHeaderLen+n)
	out, err := h.AppendBinary(out)
	if err != nil {
		return nil, err
	}
	out = append(out, secondary...)
	return append(out, data...), nil
}

// SecondaryHeaderBytes encodes a MET secondary header.
func SecondaryHeaderBytes(met uint32) []byte {
	return binary.BigEndian.AppendUint32(make([]byte, 0, SecondaryHeaderLen), met)
}
