// Package server ingests IMU frames over UDP, runs one keyframe pipeline per
// source and publishes the results.
package server

import (
	"encoding/json"
	"net"
	"sort"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/spatial/r3"

	"vio-engine-go/binlog"
	"vio-engine-go/monitoring"
	"vio-engine-go/preint"
	"vio-engine-go/protocol"
	"vio-engine-go/relay"
	"vio-engine-go/stream"
	"vio-engine-go/web"
)

const (
	DefaultPort   = 44333
	MaxPacketSize = 65535
)

// Stats counts what the server has seen.
type Stats struct {
	Packets   uint64 `json:"packets"`
	Frames    uint64 `json:"frames"`
	Skipped   uint64 `json:"skipped"`
	Keyframes uint64 `json:"keyframes"`
	Errors    uint64 `json:"errors"`
}

type UDPServer struct {
	conn     *net.UDPConn
	factory  *preint.Factory
	capacity int
	bias     r3.Vec

	pcap    *binlog.Writer
	sender  *relay.Sender
	webHub  *web.Hub
	running atomic.Bool

	mu        sync.Mutex
	pipelines map[uint32]*stream.Pipeline
	latest    map[uint32]*stream.Result
	stats     Stats
}

// NewUDPServer builds a server whose per-source pipelines come from factory
// and buffer up to capacity samples. Without a listen address the server
// only accepts replayed packets.
func NewUDPServer(factory *preint.Factory, capacity int, bias r3.Vec) *UDPServer {
	return &UDPServer{
		factory:   factory,
		capacity:  capacity,
		bias:      bias,
		pipelines: make(map[uint32]*stream.Pipeline),
		latest:    make(map[uint32]*stream.Result),
	}
}

// Listen binds the UDP socket. An empty addr listens on DefaultPort.
func (s *UDPServer) Listen(addr string) error {
	if addr == "" {
		addr = (&net.UDPAddr{Port: DefaultPort}).String()
	}
	uaddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", uaddr)
	if err != nil {
		return err
	}
	conn.SetReadBuffer(256 * 1024)
	s.conn = conn
	return nil
}

// LocalAddr is the bound address, or nil before Listen.
func (s *UDPServer) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

func (s *UDPServer) SetBinlogWriter(pw *binlog.Writer) { s.pcap = pw }
func (s *UDPServer) SetRelaySender(snd *relay.Sender)  { s.sender = snd }
func (s *UDPServer) SetWebHub(h *web.Hub)              { s.webHub = h }

// Start reads datagrams until Stop.
func (s *UDPServer) Start() {
	s.running.Store(true)
	buf := make([]byte, MaxPacketSize)
	monitoring.Logf("UDP server listening on %s", s.conn.LocalAddr())

	for s.running.Load() {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if s.running.Load() {
				monitoring.Logf("Read error: %v", err)
			}
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		if s.pcap != nil {
			if err := s.pcap.WritePacket(binlog.FlagRx, addr, data); err != nil {
				monitoring.Logf("binlog write: %v", err)
			}
		}
		s.handlePacket(data)
	}
}

func (s *UDPServer) Stop() {
	s.running.Store(false)
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *UDPServer) handlePacket(data []byte) {
	frames, skipped := protocol.Decode(data, true)

	s.mu.Lock()
	s.stats.Packets++
	s.stats.Frames += uint64(len(frames))
	s.stats.Skipped += uint64(skipped)
	s.mu.Unlock()

	for _, f := range frames {
		p := s.pipeline(f.Source)
		switch f.Type {
		case protocol.TypeIMU:
			if err := p.Insert(f.Sample); err != nil {
				s.fail("source %08X: %v", f.Source, err)
			}
		case protocol.TypeKeyframe:
			res, err := p.Keyframe(f.Keyframe)
			if err != nil {
				s.fail("source %08X: %v", f.Source, err)
				continue
			}
			if res != nil {
				s.sendResult(res)
			}
		}
	}
}

func (s *UDPServer) fail(format string, v ...interface{}) {
	s.mu.Lock()
	s.stats.Errors++
	s.mu.Unlock()
	monitoring.Logf(format, v...)
}

func (s *UDPServer) pipeline(source uint32) *stream.Pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pipelines[source]
	if !ok {
		p = stream.NewPipeline(source, s.factory, s.capacity, s.bias)
		s.pipelines[source] = p
		monitoring.Logf("new source %08X", source)
	}
	return p
}

func (s *UDPServer) sendResult(res *stream.Result) {
	s.mu.Lock()
	s.latest[res.Source] = res
	s.stats.Keyframes++
	s.mu.Unlock()

	if s.sender != nil {
		s.sender.Send(relay.FormatKeyframe(res.Source, res.Seq, res.Time, res.DeltaR, res.Cov), relay.FlagKeyframe)
		s.sender.Send(relay.FormatStep(res.Source, res.Seq, res.Time, res.R), relay.FlagStep)
	}
	if s.webHub != nil {
		b, err := json.Marshal(res)
		if err != nil {
			monitoring.Logf("marshal result: %v", err)
			return
		}
		s.webHub.Broadcast(b)
	}
}

// Latest returns the most recent result of every source, ordered by source.
func (s *UDPServer) Latest() []*stream.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*stream.Result, 0, len(s.latest))
	for _, r := range s.latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

func (s *UDPServer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Snapshot is the /api/state document.
func (s *UDPServer) Snapshot() interface{} {
	return struct {
		Stats  Stats            `json:"stats"`
		Latest []*stream.Result `json:"latest"`
	}{s.Stats(), s.Latest()}
}
