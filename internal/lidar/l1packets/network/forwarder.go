package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// DropCounter records telegrams dropped on forward.
type DropCounter interface {
	AddDropped()
}

// PacketForwarder relays raw telegrams to another UDP address without
// blocking the receive loop. A full queue drops the telegram.
type PacketForwarder struct {
	conn        net.Conn
	channel     chan []byte
	stats       DropCounter
	logInterval time.Duration
	address     string
	closeOnce   sync.Once
	closed      atomic.Bool
}

// FORWARD_QUEUE_SIZE bounds telegrams waiting to be forwarded.
const FORWARD_QUEUE_SIZE = 1000

// NewPacketForwarder dials addr:port for forwarding.
func NewPacketForwarder(addr string, port int, stats DropCounter, logInterval time.Duration) (*PacketForwarder, error) {
	forwardAddress := net.JoinHostPort(addr, fmt.Sprint(port))
	conn, err := net.Dial("udp", forwardAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to create forward connection to %s: %w", forwardAddress, err)
	}
	if logInterval <= 0 {
		logInterval = time.Minute
	}
	return &PacketForwarder{
		conn:        conn,
		channel:     make(chan []byte, FORWARD_QUEUE_SIZE),
		stats:       stats,
		logInterval: logInterval,
		address:     forwardAddress,
	}, nil
}

// Address returns the forwarding destination.
func (f *PacketForwarder) Address() string { return f.address }

// Start runs the forwarding goroutine until ctx is done or Close is called.
// Write failures are summarised once per log interval.
func (f *PacketForwarder) Start(ctx context.Context) {
	go func() {
		failed := 0
		var lastErr error
		ticker := time.NewTicker(f.logInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case packet, ok := <-f.channel:
				if !ok {
					return
				}
				if _, err := f.conn.Write(packet); err != nil {
					failed++
					lastErr = err
				}
			case <-ticker.C:
				if failed > 0 {
					opsf("failed to forward %d telegrams to %s (latest: %v)", failed, f.address, lastErr)
					failed, lastErr = 0, nil
				}
			}
		}
	}()

	diagf("Forwarding telegrams to %s", f.address)
}

// ForwardAsync queues a copy of packet. The caller may reuse packet.
func (f *PacketForwarder) ForwardAsync(packet []byte) {
	if f.closed.Load() {
		return
	}
	packetCopy := make([]byte, len(packet))
	copy(packetCopy, packet)

	select {
	case f.channel <- packetCopy:
	default:
		if f.stats != nil {
			f.stats.AddDropped()
		}
	}
}

// Close stops forwarding and closes the connection. Safe to call twice.
func (f *PacketForwarder) Close() error {
	var err error
	f.closeOnce.Do(func() {
		f.closed.Store(true)
		close(f.channel)
		err = f.conn.Close()
	})
	return err
}
