// Package binlog reads and writes pcap-style logs of received IMU datagrams.
//
// The file is a 24-byte global header followed by records of
// ts_sec(4) ts_usec(4) incl_len(4) orig_len(4), flag(2) port(2) ip(4) and a
// payload of incl_len-8 bytes.
package binlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"os"

	"vio-engine-go/imu"
	"vio-engine-go/protocol"
)

var ErrBadHeader = errors.New("binlog: bad global header")

// Record is one raw log entry.
type Record struct {
	Timestamp float64
	Flag      uint16
	Addr      *net.UDPAddr
	Payload   []byte
}

// IsData reports whether the record carries a datagram rather than metadata.
func (r Record) IsData() bool { return r.Flag != FlagConfig && r.Flag != FlagStats }

// Reader streams records from a log.
type Reader struct {
	r   io.Reader
	rec []byte
}

// NewReader consumes the global header of r.
func NewReader(r io.Reader) (*Reader, error) {
	hdr := make([]byte, pcapGlobalLen)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("pcap header: %w", err)
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != PcapMagic {
		return nil, fmt.Errorf("%w: magic 0x%x", ErrBadHeader, binary.LittleEndian.Uint32(hdr[0:4]))
	}
	return &Reader{r: r, rec: make([]byte, pcapRecordLen+phdr2Len)}, nil
}

// Next returns the next record, or io.EOF at the end of the log. A record
// cut short by the end of the file also ends the log.
func (rd *Reader) Next() (Record, error) {
	for {
		if _, err := io.ReadFull(rd.r, rd.rec[:pcapRecordLen]); err != nil {
			return Record{}, eof(err, "pcap record")
		}
		tsSec := binary.LittleEndian.Uint32(rd.rec[0:4])
		tsUsec := binary.LittleEndian.Uint32(rd.rec[4:8])
		inclLen := binary.LittleEndian.Uint32(rd.rec[8:12])
		if inclLen < phdr2Len {
			// malformed record, skip the stated length
			if _, err := io.CopyN(io.Discard, rd.r, int64(inclLen)); err != nil {
				return Record{}, eof(err, "skip malformed record")
			}
			continue
		}

		phdr := rd.rec[pcapRecordLen:]
		if _, err := io.ReadFull(rd.r, phdr); err != nil {
			return Record{}, eof(err, "pcap phdr2")
		}
		payload := make([]byte, int(inclLen)-phdr2Len)
		if _, err := io.ReadFull(rd.r, payload); err != nil {
			return Record{}, eof(err, "pcap payload")
		}

		rec := Record{
			Timestamp: float64(tsSec) + float64(tsUsec)/1e6,
			Flag:      binary.LittleEndian.Uint16(phdr[0:2]),
			Payload:   payload,
		}
		if port := binary.LittleEndian.Uint16(phdr[2:4]); port != 0 {
			rec.Addr = &net.UDPAddr{IP: net.IPv4(phdr[4], phdr[5], phdr[6], phdr[7]), Port: int(port)}
		}
		return rec, nil
	}
}

func eof(err error, what string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return fmt.Errorf("%s: %w", what, err)
}

// Event is a datagram record with its decoded frames.
type Event struct {
	Timestamp float64
	Frames    []protocol.Frame
}

// Parser loads a whole log into memory.
type Parser struct {
	Path      string
	VerifyCRC bool

	// Config is the last configuration record, if any.
	Config  []byte
	Events  []Event
	Skipped int
}

func NewParser(path string) *Parser {
	return &Parser{Path: path, VerifyCRC: true}
}

func (p *Parser) Parse() error {
	f, err := os.Open(p.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	return p.ParseReader(f)
}

func (p *Parser) ParseReader(r io.Reader) error {
	rd, err := NewReader(r)
	if err != nil {
		return err
	}
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch rec.Flag {
		case FlagConfig:
			p.Config = rec.Payload
			continue
		case FlagStats:
			continue
		}
		frames, skipped := protocol.Decode(rec.Payload, p.VerifyCRC)
		p.Skipped += skipped
		if len(frames) == 0 {
			continue
		}
		p.Events = append(p.Events, Event{Timestamp: rec.Timestamp, Frames: frames})
	}
}

// Sources lists the frame sources in order of first appearance.
func (p *Parser) Sources() []uint32 {
	seen := map[uint32]bool{}
	var out []uint32
	for _, e := range p.Events {
		for _, f := range e.Frames {
			if !seen[f.Source] {
				seen[f.Source] = true
				out = append(out, f.Source)
			}
		}
	}
	return out
}

// FilterSamples returns the IMU samples and keyframe times of one source in
// log order.
func (p *Parser) FilterSamples(source uint32) ([]imu.Sample, []float64) {
	var samples []imu.Sample
	var keyframes []float64
	for _, e := range p.Events {
		for _, f := range e.Frames {
			if f.Source != source {
				continue
			}
			switch f.Type {
			case protocol.TypeIMU:
				samples = append(samples, f.Sample)
			case protocol.TypeKeyframe:
				keyframes = append(keyframes, f.Keyframe)
			}
		}
	}
	return samples, keyframes
}

// EarliestEventTs returns the earliest record timestamp, or 0 when empty.
func (p *Parser) EarliestEventTs() float64 {
	if len(p.Events) == 0 {
		return 0
	}
	earliest := math.MaxFloat64
	for _, e := range p.Events {
		earliest = min(earliest, e.Timestamp)
	}
	return earliest
}

// ReadPayloads returns the datagram payloads of a log, skipping metadata
// records.
func ReadPayloads(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rd, err := NewReader(f)
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if rec.IsData() {
			out = append(out, rec.Payload)
		}
	}
}
