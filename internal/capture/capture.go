// Package capture sniffs the game client's TCP traffic and feeds raw
// payloads into the packet queue. No stream reassembly happens here:
// each captured payload is handed downstream as one candidate frame.
package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"dofus-hdv/internal/config"
	"dofus-hdv/internal/logger"
	"dofus-hdv/internal/metrics"
	"dofus-hdv/internal/queue"
)

// ErrCaptureFatal marks a native capture error while the loop was
// running. It stops the capture task and flips health to DOWN.
var ErrCaptureFatal = errors.New("capture fatal")

const stopJoinDeadline = 5 * time.Second

// Stats is a snapshot of capture counters for health reporting.
type Stats struct {
	Running            bool   `json:"running"`
	Interface          string `json:"interface"`
	PacketsReceived    int64  `json:"packets_received"`
	PacketsDropped     int64  `json:"packets_dropped"`
	PacketsDroppedByIf int64  `json:"packets_dropped_by_if"`
	Fatal              string `json:"fatal,omitempty"`
}

// Capture owns the live pcap handle and the loop goroutine.
type Capture struct {
	cfg          config.CaptureConfig
	q            *queue.Queue
	offerTimeout time.Duration
	listDevices  DeviceLister

	handle *pcap.Handle
	iface  string
	done   chan struct{}

	running  atomic.Bool
	received atomic.Int64
	dropped  atomic.Int64

	fatalMu  sync.Mutex
	fatalErr error

	stopOnce sync.Once
}

// New builds a capture over q. The offer timeout bounds how long the
// loop waits for queue room before dropping a payload.
func New(cfg config.CaptureConfig, q *queue.Queue, offerTimeout time.Duration) *Capture {
	return &Capture{
		cfg:          cfg,
		q:            q,
		offerTimeout: offerTimeout,
		listDevices:  ListPcapDevices,
	}
}

// Start selects the interface, opens the live handle, installs the BPF
// filter, and spawns the capture loop. BPF install failure is fatal.
func (c *Capture) Start() error {
	devices, err := c.listDevices()
	if err != nil {
		return err
	}
	iface, err := SelectInterface(devices, c.cfg.Interface)
	if err != nil {
		return err
	}

	handle, err := pcap.OpenLive(iface, int32(c.cfg.SnapLen), c.cfg.Promiscuous,
		time.Duration(c.cfg.TimeoutMs)*time.Millisecond)
	if err != nil {
		return fmt.Errorf("open %s: %w", iface, err)
	}
	filter := fmt.Sprintf("tcp port %d", c.cfg.Port)
	if err := handle.SetBPFFilter(filter); err != nil {
		handle.Close()
		return fmt.Errorf("install filter %q on %s: %w", filter, iface, err)
	}

	c.handle = handle
	c.iface = iface
	c.done = make(chan struct{})
	c.running.Store(true)
	go c.loop()

	logger.Success("CAP", fmt.Sprintf("capturing on %s (filter %q, snaplen %d)", iface, filter, c.cfg.SnapLen))
	return nil
}

// Stop signals shutdown, closes the handle to unblock the native read,
// and joins the loop with a 5-second deadline. Idempotent.
func (c *Capture) Stop() {
	c.stopOnce.Do(func() {
		c.running.Store(false)
		if c.handle != nil {
			c.handle.Close()
		}
		if c.done == nil {
			return
		}
		select {
		case <-c.done:
		case <-time.After(stopJoinDeadline):
			logger.Warn("CAP", "capture loop did not stop within deadline")
		}
	})
}

// Running reports whether the loop is alive.
func (c *Capture) Running() bool { return c.running.Load() }

// Stats returns capture counters, including interface-level drop counts
// when the handle can supply them.
func (c *Capture) Stats() Stats {
	s := Stats{
		Running:         c.running.Load(),
		Interface:       c.iface,
		PacketsReceived: c.received.Load(),
		PacketsDropped:  c.dropped.Load(),
	}
	c.fatalMu.Lock()
	if c.fatalErr != nil {
		s.Fatal = c.fatalErr.Error()
	}
	c.fatalMu.Unlock()
	if c.handle != nil && c.running.Load() {
		if hs, err := c.handle.Stats(); err == nil {
			s.PacketsDroppedByIf = int64(hs.PacketsDropped) + int64(hs.PacketsIfDropped)
		}
	}
	return s
}

func (c *Capture) loop() {
	defer close(c.done)
	src := gopacket.NewPacketSource(c.handle, c.handle.LinkType())
	src.NoCopy = true

	for c.running.Load() {
		packet, err := src.NextPacket()
		if err != nil {
			if errors.Is(err, pcap.NextErrorTimeoutExpired) {
				continue
			}
			if !c.running.Load() || errors.Is(err, io.EOF) {
				// Handle closed during shutdown.
				logger.Debug("CAP", fmt.Sprintf("read after shutdown: %v", err))
				return
			}
			c.fatal(err)
			return
		}
		payload, ok := tcpPayload(packet)
		if !ok {
			continue
		}
		c.received.Add(1)
		metrics.PacketsCaptured.Inc()

		if !c.q.Offer(payload, c.offerTimeout) {
			n := c.dropped.Add(1)
			metrics.PacketsDropped.Inc()
			logger.Warn("CAP", fmt.Sprintf("queue full, dropped payload (%d dropped total)", n))
		}
	}
}

// tcpPayload extracts the TCP payload from a captured packet, rejecting
// non-TCP packets and empty segments (pure ACKs, keepalives).
func tcpPayload(packet gopacket.Packet) ([]byte, bool) {
	t := packet.TransportLayer()
	if t == nil || t.LayerType() != layers.LayerTypeTCP {
		return nil, false
	}
	payload := t.LayerPayload()
	if len(payload) == 0 {
		return nil, false
	}
	// The packet source may reuse its buffer; copy before queueing.
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, true
}

func (c *Capture) fatal(err error) {
	c.running.Store(false)
	c.fatalMu.Lock()
	c.fatalErr = fmt.Errorf("%w: %v", ErrCaptureFatal, err)
	c.fatalMu.Unlock()
	logger.Error("CAP", fmt.Sprintf("capture loop died: %v", err))
}
