package binlog

import (
	"bytes"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"vio-engine-go/imu"
	"vio-engine-go/protocol"
)

var gw = &net.UDPAddr{IP: net.IPv4(192, 168, 1, 20), Port: 5000}

func samples(n int) []imu.Sample {
	out := make([]imu.Sample, n)
	for i := range out {
		out[i] = imu.Sample{Time: float64(i) * 0.005, Gyr: r3.Vec{X: 0.25 * float64(i), Z: -1}}
	}
	return out
}

func writeLog(t *testing.T, pw *Writer) [][]byte {
	t.Helper()
	require.NoError(t, pw.WriteConfig([]byte("preintegration:\n  kind: manifold\n")))

	var sent [][]byte
	for i, s := range samples(4) {
		dgram := protocol.EncodeIMU(1, s)
		if i == 3 {
			dgram = append(dgram, protocol.EncodeKeyframe(1, s.Time)...)
			dgram = append(dgram, protocol.EncodeIMU(2, s)...)
		}
		ts := time.Unix(100, int64(i)*250_000_000)
		require.NoError(t, pw.WritePacketAt(ts, FlagRx, gw, dgram))
		sent = append(sent, dgram)
	}
	require.NoError(t, pw.WritePacketAt(time.Unix(101, 0), FlagStats, nil, []byte{1, 2, 3}))
	require.NoError(t, pw.WritePacketAt(time.Unix(102, 0), FlagRx, nil, []byte{0xff, 0xff}))
	return sent
}

func TestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	pw, err := NewWriterTo(&buf)
	require.NoError(t, err)
	writeLog(t, pw)

	p := &Parser{VerifyCRC: true}
	require.NoError(t, p.ParseReader(bytes.NewReader(buf.Bytes())))

	assert.Equal(t, "preintegration:\n  kind: manifold\n", string(p.Config))
	require.Len(t, p.Events, 4)
	assert.Equal(t, 100.75, p.Events[3].Timestamp)
	assert.Equal(t, 100.0, p.EarliestEventTs())
	assert.Equal(t, 2, p.Skipped)
	assert.Equal(t, []uint32{1, 2}, p.Sources())

	got, kfs := p.FilterSamples(1)
	if diff := cmp.Diff(samples(4), got); diff != "" {
		t.Errorf("samples mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []float64{samples(4)[3].Time}, kfs)

	got, kfs = p.FilterSamples(2)
	assert.Len(t, got, 1)
	assert.Empty(t, kfs)
}

func TestReaderKeepsAddress(t *testing.T) {
	var buf bytes.Buffer
	pw, err := NewWriterTo(&buf)
	require.NoError(t, err)
	require.NoError(t, pw.WritePacket(FlagRx, gw, []byte("x")))

	rd, err := NewReader(&buf)
	require.NoError(t, err)
	rec, err := rd.Next()
	require.NoError(t, err)
	assert.True(t, rec.IsData())
	require.NotNil(t, rec.Addr)
	assert.Equal(t, gw.String(), rec.Addr.String())
	assert.Equal(t, []byte("x"), rec.Payload)
}

func TestReadPayloadsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imu.pcap")
	pw, err := NewWriter(path)
	require.NoError(t, err)
	sent := writeLog(t, pw)
	require.NoError(t, pw.Close())

	got, err := ReadPayloads(path)
	require.NoError(t, err)
	require.Len(t, got, len(sent)+1)
	for i := range sent {
		assert.Equal(t, sent[i], got[i])
	}

	p := NewParser(path)
	require.NoError(t, p.Parse())
	assert.Len(t, p.Events, 4)
}

func TestTruncatedLogEndsCleanly(t *testing.T) {
	var buf bytes.Buffer
	pw, err := NewWriterTo(&buf)
	require.NoError(t, err)
	writeLog(t, pw)

	cut := buf.Bytes()[:buf.Len()-1]
	p := &Parser{VerifyCRC: true}
	require.NoError(t, p.ParseReader(bytes.NewReader(cut)))
	assert.Len(t, p.Events, 4)
}

func TestBadHeader(t *testing.T) {
	_, err := NewReader(bytes.NewReader(make([]byte, pcapGlobalLen)))
	assert.True(t, errors.Is(err, ErrBadHeader))

	_, err = NewReader(bytes.NewReader([]byte{1, 2}))
	assert.Error(t, err)
}
