package binlog

import (
	"encoding/binary"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

const (
	PcapMagic = 0xA1B2C3D4

	// FlagRx marks a received datagram.
	FlagRx = 0x109
	// FlagConfig marks a record holding the YAML engine configuration.
	FlagConfig = 0x04
	// FlagStats marks a record holding server counters; parsers ignore it.
	FlagStats = 0x10

	pcapGlobalLen = 24
	pcapRecordLen = 16
	phdr2Len      = 8
	snapLen       = 65535
)

// Writer appends records to a pcap-style log. It is safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	buf []byte
	now func() time.Time
}

func NewWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriterTo(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// NewWriterTo writes the global header to w and returns a Writer on it.
// Close closes w when it is an io.Closer.
func NewWriterTo(w io.Writer) (*Writer, error) {
	pw := &Writer{
		w:   w,
		buf: make([]byte, pcapRecordLen+phdr2Len),
		now: time.Now,
	}
	if err := pw.writeGlobalHeader(); err != nil {
		return nil, err
	}
	return pw, nil
}

func (pw *Writer) writeGlobalHeader() error {
	b := make([]byte, pcapGlobalLen)
	binary.LittleEndian.PutUint32(b[0:], PcapMagic)
	binary.LittleEndian.PutUint16(b[4:], 2)
	binary.LittleEndian.PutUint16(b[6:], 4)
	binary.LittleEndian.PutUint32(b[16:], snapLen)
	binary.LittleEndian.PutUint32(b[20:], 1)
	_, err := pw.w.Write(b)
	return err
}

// WritePacket records data stamped with the current wall clock.
func (pw *Writer) WritePacket(flag uint16, addr *net.UDPAddr, data []byte) error {
	return pw.WritePacketAt(pw.now(), flag, addr, data)
}

// WritePacketAt records data with an explicit timestamp, for generated logs.
func (pw *Writer) WritePacketAt(ts time.Time, flag uint16, addr *net.UDPAddr, data []byte) error {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	total := uint32(len(data) + phdr2Len)
	binary.LittleEndian.PutUint32(pw.buf[0:], uint32(ts.Unix()))
	binary.LittleEndian.PutUint32(pw.buf[4:], uint32(ts.Nanosecond()/1000))
	binary.LittleEndian.PutUint32(pw.buf[8:], total)
	binary.LittleEndian.PutUint32(pw.buf[12:], total)

	// flag(2) port(2) ip(4), the address kept in network byte order
	binary.LittleEndian.PutUint16(pw.buf[16:], flag)
	var port uint16
	var ip4 net.IP
	if addr != nil {
		port = uint16(addr.Port)
		ip4 = addr.IP.To4()
	}
	binary.LittleEndian.PutUint16(pw.buf[18:], port)
	if ip4 != nil {
		copy(pw.buf[20:24], ip4)
	} else {
		binary.LittleEndian.PutUint32(pw.buf[20:], 0)
	}

	if _, err := pw.w.Write(pw.buf); err != nil {
		return err
	}
	_, err := pw.w.Write(data)
	return err
}

// WriteConfig records the engine configuration so a log can be replayed
// with the settings it was captured under.
func (pw *Writer) WriteConfig(yamlDoc []byte) error {
	return pw.WritePacket(FlagConfig, nil, yamlDoc)
}

func (pw *Writer) Close() error {
	if c, ok := pw.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
