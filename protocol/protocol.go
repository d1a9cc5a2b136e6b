// Package protocol encodes and decodes the little-endian IMU frames carried
// in UDP datagrams and binary logs.
//
// A frame is magic(2) source(4) type(1) len(2), a body of len bytes and a
// CRC-16/XMODEM over header and body. A datagram may hold several frames.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"vio-engine-go/imu"
)

const (
	Magic   = 0x4D49 // "IM"
	HdrLen  = 9
	WrapLen = HdrLen + 2

	TypeIMU      = 0x90
	TypeKeyframe = 0x91

	imuBodyLen      = 8 + 6*4
	keyframeBodyLen = 8
)

var (
	ErrShort     = errors.New("protocol: frame too short")
	ErrMagic     = errors.New("protocol: invalid magic")
	ErrTruncated = errors.New("protocol: body truncated")
	ErrCRC       = errors.New("protocol: crc mismatch")
	ErrType      = errors.New("protocol: unknown frame type")
)

type Header struct {
	Magic   uint16
	Source  uint32
	Type    uint8
	BodyLen int
}

// Frame is a decoded frame. Sample is set for TypeIMU, Keyframe for
// TypeKeyframe.
type Frame struct {
	Source   uint32
	Type     uint8
	Sample   imu.Sample
	Keyframe float64
}

// ParseHeader parses the frame header at the beginning of data.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HdrLen {
		return nil, ErrShort
	}
	magic := binary.LittleEndian.Uint16(data[0:2])
	if magic != Magic {
		return nil, fmt.Errorf("%w: 0x%x", ErrMagic, magic)
	}
	return &Header{
		Magic:   magic,
		Source:  binary.LittleEndian.Uint32(data[2:6]),
		Type:    data[6],
		BodyLen: int(binary.LittleEndian.Uint16(data[7:9])),
	}, nil
}

func wrap(source uint32, typ uint8, body []byte) []byte {
	b := make([]byte, WrapLen+len(body))
	binary.LittleEndian.PutUint16(b[0:], Magic)
	binary.LittleEndian.PutUint32(b[2:], source)
	b[6] = typ
	binary.LittleEndian.PutUint16(b[7:], uint16(len(body)))
	copy(b[HdrLen:], body)
	end := HdrLen + len(body)
	binary.LittleEndian.PutUint16(b[end:], crc16(b[:end]))
	return b
}

// EncodeIMU frames one inertial sample. Vectors are sent as float32.
func EncodeIMU(source uint32, s imu.Sample) []byte {
	body := make([]byte, imuBodyLen)
	binary.LittleEndian.PutUint64(body[0:], math.Float64bits(s.Time))
	for i, v := range []float64{s.Acc.X, s.Acc.Y, s.Acc.Z, s.Gyr.X, s.Gyr.Y, s.Gyr.Z} {
		binary.LittleEndian.PutUint32(body[8+4*i:], math.Float32bits(float32(v)))
	}
	return wrap(source, TypeIMU, body)
}

// EncodeKeyframe frames a keyframe marker at time t.
func EncodeKeyframe(source uint32, t float64) []byte {
	body := make([]byte, keyframeBodyLen)
	binary.LittleEndian.PutUint64(body, math.Float64bits(t))
	return wrap(source, TypeKeyframe, body)
}

func ParseIMU(body []byte) (imu.Sample, error) {
	if len(body) < imuBodyLen {
		return imu.Sample{}, fmt.Errorf("%w: imu body %d bytes", ErrShort, len(body))
	}
	f := func(i int) float64 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(body[8+4*i:])))
	}
	return imu.Sample{
		Time: math.Float64frombits(binary.LittleEndian.Uint64(body[0:8])),
		Acc:  r3.Vec{X: f(0), Y: f(1), Z: f(2)},
		Gyr:  r3.Vec{X: f(3), Y: f(4), Z: f(5)},
	}, nil
}

func ParseKeyframe(body []byte) (float64, error) {
	if len(body) < keyframeBodyLen {
		return 0, fmt.Errorf("%w: keyframe body %d bytes", ErrShort, len(body))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(body[0:8])), nil
}

// Next decodes the frame at the start of data and returns its total length.
func Next(data []byte, verifyCRC bool) (Frame, int, error) {
	hdr, err := ParseHeader(data)
	if err != nil {
		return Frame{}, 0, err
	}
	total := WrapLen + hdr.BodyLen
	if total > len(data) {
		return Frame{}, 0, ErrTruncated
	}
	bodyEnd := HdrLen + hdr.BodyLen
	if verifyCRC && crc16(data[:bodyEnd]) != binary.LittleEndian.Uint16(data[bodyEnd:total]) {
		return Frame{}, 0, ErrCRC
	}
	body := data[HdrLen:bodyEnd]

	frame := Frame{Source: hdr.Source, Type: hdr.Type}
	switch hdr.Type {
	case TypeIMU:
		frame.Sample, err = ParseIMU(body)
	case TypeKeyframe:
		frame.Keyframe, err = ParseKeyframe(body)
	default:
		err = fmt.Errorf("%w: 0x%x", ErrType, hdr.Type)
	}
	return frame, total, err
}

// Decode walks every frame in a datagram. Bytes that do not start a valid
// frame are skipped one at a time, and frames of unknown type are skipped
// whole. The number of skipped bytes is returned with the frames.
func Decode(data []byte, verifyCRC bool) ([]Frame, int) {
	var frames []Frame
	skipped, offset := 0, 0
	for len(data)-offset >= WrapLen {
		frame, n, err := Next(data[offset:], verifyCRC)
		switch {
		case err == nil:
			frames = append(frames, frame)
			offset += n
		case errors.Is(err, ErrType):
			skipped += n
			offset += n
		default:
			skipped++
			offset++
		}
	}
	return frames, skipped + len(data) - offset
}

// crc16 is CRC-16/XMODEM (poly 0x1021, init 0).
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
