package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"vio-engine-go/imu"
)

var sample = imu.Sample{
	Time: 1712345678.123456,
	Acc:  r3.Vec{X: 0.1, Y: -9.81, Z: 0.25},
	Gyr:  r3.Vec{X: 0.5, Y: -0.125, Z: 2},
}

func TestCRC16CheckValue(t *testing.T) {
	assert.Equal(t, uint16(0x31C3), crc16([]byte("123456789")))
}

func TestIMURoundTrip(t *testing.T) {
	b := EncodeIMU(0xB50AC, sample)
	require.Len(t, b, WrapLen+imuBodyLen)

	hdr, err := ParseHeader(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xB50AC), hdr.Source)
	assert.Equal(t, uint8(TypeIMU), hdr.Type)
	assert.Equal(t, imuBodyLen, hdr.BodyLen)

	f, n, err := Next(b, true)
	require.NoError(t, err)
	assert.Equal(t, len(b), n)
	assert.Equal(t, sample.Time, f.Sample.Time)
	assert.InDelta(t, -9.81, f.Sample.Acc.Y, 1e-6)
	// exactly representable in float32
	assert.Equal(t, sample.Gyr, f.Sample.Gyr)
}

func TestDecodeDatagram(t *testing.T) {
	var dgram []byte
	dgram = append(dgram, 0xde, 0xad)
	dgram = append(dgram, EncodeIMU(1, sample)...)
	dgram = append(dgram, wrap(1, 0x42, []byte{1, 2, 3})...)
	dgram = append(dgram, EncodeKeyframe(1, 42.5)...)
	dgram = append(dgram, 0x49)

	frames, skipped := Decode(dgram, true)
	require.Len(t, frames, 2)
	assert.Equal(t, uint8(TypeIMU), frames[0].Type)
	assert.Equal(t, uint8(TypeKeyframe), frames[1].Type)
	assert.Equal(t, 42.5, frames[1].Keyframe)
	assert.Equal(t, 2+WrapLen+3+1, skipped)
}

func TestCRCMismatch(t *testing.T) {
	b := EncodeKeyframe(7, 1)
	b[HdrLen] ^= 0xff

	_, _, err := Next(b, true)
	assert.True(t, errors.Is(err, ErrCRC))

	f, _, err := Next(b, false)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), f.Source)
}

func TestHeaderErrors(t *testing.T) {
	_, err := ParseHeader([]byte{0x49, 0x4D})
	assert.True(t, errors.Is(err, ErrShort))

	_, err = ParseHeader(make([]byte, HdrLen))
	assert.True(t, errors.Is(err, ErrMagic))

	b := EncodeKeyframe(7, 1)
	_, _, err = Next(b[:len(b)-1], true)
	assert.True(t, errors.Is(err, ErrTruncated))

	_, _, err = Next(wrap(1, TypeIMU, []byte{1}), true)
	assert.True(t, errors.Is(err, ErrShort))
}
