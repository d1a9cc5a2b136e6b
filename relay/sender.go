package relay

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"vio-engine-go/monitoring"
)

type Message struct {
	Data []byte
	Flag uint32
}

type udpTarget struct {
	addr *net.UDPAddr
	mask uint32
}

type tcpClient struct {
	addr  string
	mask  uint32
	queue chan *Message
	wg    sync.WaitGroup
}

// Sender fans messages out to the configured targets. UDP targets are
// written inline; each TCP target has its own queue and reconnecting writer.
type Sender struct {
	mu         sync.RWMutex
	udpTargets []*udpTarget
	tcpClients []*tcpClient
	connUDP    *net.UDPConn
	header     []byte
	running    bool

	sent    atomic.Uint64
	dropped atomic.Uint64
}

func NewSender() *Sender {
	return &Sender{}
}

// SetHeader prefixes every message with hdr followed by a colon. An empty
// header disables the prefix.
func (s *Sender) SetHeader(hdr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hdr == "" {
		s.header = nil
	} else {
		s.header = []byte(hdr + ":")
	}
}

func (s *Sender) AddUDPSender(addr string, mask uint32) error {
	uaddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.udpTargets = append(s.udpTargets, &udpTarget{addr: uaddr, mask: mask})
	return nil
}

// AddTCPSender registers a TCP target. Targets added after Start are not
// started.
func (s *Sender) AddTCPSender(addr string, mask uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tcpClients = append(s.tcpClients, &tcpClient{
		addr:  addr,
		mask:  mask,
		queue: make(chan *Message, tcpQueueSize),
	})
}

func (s *Sender) Start() error {
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connUDP = conn
	s.running = true
	for _, c := range s.tcpClients {
		c.start()
	}
	return nil
}

// Stop closes the UDP socket and drains the TCP queues. It is safe to call
// more than once.
func (s *Sender) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.connUDP.Close()
	clients := s.tcpClients
	s.mu.Unlock()

	for _, c := range clients {
		c.stop()
	}
}

// Send delivers data to every target whose mask covers flag. TCP messages
// are dropped when the target queue is full.
func (s *Sender) Send(data []byte, flag uint32) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return
	}

	msgData := data
	if len(s.header) > 0 {
		msgData = make([]byte, len(s.header)+len(data))
		copy(msgData, s.header)
		copy(msgData[len(s.header):], data)
	}
	msg := &Message{Data: msgData, Flag: flag}

	for _, t := range s.udpTargets {
		if t.mask&flag != flag {
			continue
		}
		if _, err := s.connUDP.WriteToUDP(msgData, t.addr); err != nil {
			monitoring.Debugf("relay: udp send to %s: %v", t.addr, err)
			s.dropped.Add(1)
			continue
		}
		s.sent.Add(1)
	}

	for _, c := range s.tcpClients {
		if c.mask&flag != flag {
			continue
		}
		select {
		case c.queue <- msg:
			s.sent.Add(1)
		default:
			s.dropped.Add(1)
		}
	}
}

// Stats returns the number of messages handed to targets and dropped.
func (s *Sender) Stats() (sent, dropped uint64) {
	return s.sent.Load(), s.dropped.Load()
}

func (c *tcpClient) start() {
	c.wg.Add(1)
	go c.loop()
}

func (c *tcpClient) stop() {
	close(c.queue)
	c.wg.Wait()
}

func (c *tcpClient) loop() {
	defer c.wg.Done()
	var conn net.Conn

	connect := func() bool {
		if conn != nil {
			return true
		}
		var err error
		conn, err = net.DialTimeout("tcp", c.addr, dialTimeout)
		if err != nil {
			conn = nil
			return false
		}
		return true
	}

	for msg := range c.queue {
		if !connect() {
			time.Sleep(reconnectDelay)
			if !connect() {
				continue
			}
		}

		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := conn.Write(msg.Data); err != nil {
			monitoring.Logf("relay: tcp write to %s failed: %v", c.addr, err)
			conn.Close()
			conn = nil
			time.Sleep(100 * time.Millisecond)
		}
	}
	if conn != nil {
		conn.Close()
	}
}
