package housekeeping

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Record builds a fixed-layout big-endian telemetry record.
type Record struct {
	buf []byte
}

// NewRecord returns a record with capacity for n bytes.
func NewRecord(n int) *Record { return &Record{buf: make([]byte, 0, n)} }

func (r *Record) U8(v uint8) *Record {
	r.buf = append(r.buf, v)
	return r
}

// I8 truncates v toward zero and saturates it to the int8 range.
func (r *Record) I8(v float64) *Record {
	switch {
	case math.IsNaN(v):
		v = 0
	case v > math.MaxInt8:
		v = math.MaxInt8
	case v < math.MinInt8:
		v = math.MinInt8
	}
	r.buf = append(r.buf, byte(int8(v)))
	return r
}

func (r *Record) Bool(v bool) *Record {
	if v {
		return r.U8(1)
	}
	return r.U8(0)
}

func (r *Record) F32(v float64) *Record {
	r.buf = binary.BigEndian.AppendUint32(r.buf, math.Float32bits(float32(v)))
	return r
}

func (r *Record) U32(v uint32) *Record {
	r.buf = binary.BigEndian.AppendUint32(r.buf, v)
	return r
}

// Bytes returns the encoded record.
func (r *Record) Bytes() []byte { return r.buf }

// U8 decodes a single-byte parameter.
func U8(p []byte) (uint8, error) {
	if err := expectLen(p, 1); err != nil {
		return 0, err
	}
	return p[0], nil
}

// F32 decodes a big-endian float32 parameter.
func F32(p []byte) (float32, error) {
	if err := expectLen(p, 4); err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.BigEndian.Uint32(p)), nil
}

// U32 decodes a big-endian uint32 parameter.
func U32(p []byte) (uint32, error) {
	if err := expectLen(p, 4); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(p), nil
}

// F32s decodes exactly n big-endian float32 values.
func F32s(p []byte, n int) ([]float32, error) {
	if err := expectLen(p, 4*n); err != nil {
		return nil, err
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.BigEndian.Uint32(p[4*i:]))
	}
	return out, nil
}

// Empty checks that a parameterless command carries no payload.
func Empty(p []byte) error { return expectLen(p, 0) }

func expectLen(p []byte, n int) error {
	if len(p) != n {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedPayload, len(p), n)
	}
	return nil
}
