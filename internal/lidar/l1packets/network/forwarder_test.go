package network

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

type countingDrops struct{ n atomic.Int64 }

func (c *countingDrops) AddDropped() { c.n.Add(1) }

func listenLocal(t *testing.T) (*net.UDPConn, int) {
	t.Helper()
	server, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("Failed to start test server: %v", err)
	}
	t.Cleanup(func() { server.Close() })
	return server, server.LocalAddr().(*net.UDPAddr).Port
}

func TestPacketForwarder_Address(t *testing.T) {
	forwarder, err := NewPacketForwarder("127.0.0.1", 12345, &countingDrops{}, 0)
	if err != nil {
		t.Fatalf("NewPacketForwarder failed: %v", err)
	}
	defer forwarder.Close()

	if forwarder.Address() != "127.0.0.1:12345" {
		t.Errorf("Expected address '127.0.0.1:12345', got '%s'", forwarder.Address())
	}
	if forwarder.logInterval != time.Minute {
		t.Errorf("zero log interval should default to a minute, got %v", forwarder.logInterval)
	}
}

func TestPacketForwarder_DeliversTelegram(t *testing.T) {
	server, port := listenLocal(t)

	forwarder, err := NewPacketForwarder("127.0.0.1", port, &countingDrops{}, time.Second)
	if err != nil {
		t.Fatalf("Failed to create forwarder: %v", err)
	}
	defer forwarder.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	forwarder.Start(ctx)

	forwarder.ForwardAsync([]byte{0x02, 0x02, 0x02, 0x02, 0x01})

	if err := server.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	buffer := make([]byte, 64)
	n, _, err := server.ReadFromUDP(buffer)
	if err != nil {
		t.Fatalf("Failed to read from test server: %v", err)
	}
	if n != 5 || buffer[4] != 0x01 {
		t.Errorf("unexpected forwarded datagram % x", buffer[:n])
	}
}

func TestPacketForwarder_QueueFullCountsDrops(t *testing.T) {
	drops := &countingDrops{}
	forwarder, err := NewPacketForwarder("127.0.0.1", 12345, drops, time.Second)
	if err != nil {
		t.Fatalf("Failed to create forwarder: %v", err)
	}
	defer forwarder.Close()

	// Not started, so the queue only fills.
	for i := 0; i < FORWARD_QUEUE_SIZE+5; i++ {
		forwarder.ForwardAsync([]byte("x"))
	}
	if got := drops.n.Load(); got != 5 {
		t.Errorf("expected 5 drops, got %d", got)
	}
}

func TestPacketForwarder_PacketIsCopied(t *testing.T) {
	forwarder, err := NewPacketForwarder("127.0.0.1", 12347, nil, time.Second)
	if err != nil {
		t.Fatalf("Failed to create forwarder: %v", err)
	}
	defer forwarder.Close()

	original := []byte("original data")
	forwarder.ForwardAsync(original)
	original[0] = 'X'

	select {
	case queued := <-forwarder.channel:
		if string(queued) != "original data" {
			t.Errorf("Expected 'original data', got '%s'", string(queued))
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("Packet was not queued")
	}
}

func TestPacketForwarder_CloseTwiceAndForwardAfterClose(t *testing.T) {
	forwarder, err := NewPacketForwarder("127.0.0.1", 12348, &countingDrops{}, time.Second)
	if err != nil {
		t.Fatalf("Failed to create forwarder: %v", err)
	}
	forwarder.Start(context.Background())

	if err := forwarder.Close(); err != nil {
		t.Errorf("Close returned error: %v", err)
	}
	if err := forwarder.Close(); err != nil {
		t.Errorf("second Close returned error: %v", err)
	}
	// Must not panic on the closed queue.
	forwarder.ForwardAsync([]byte("late"))
}

func TestPacketForwarder_InvalidAddress(t *testing.T) {
	_, err := NewPacketForwarder("invalid-address-12345", 12345, nil, time.Second)
	if err == nil {
		t.Error("Expected error for invalid address, got nil")
	}
}

func BenchmarkPacketForwarder_ForwardAsync(b *testing.B) {
	forwarder, err := NewPacketForwarder("127.0.0.1", 12345, &countingDrops{}, time.Second)
	if err != nil {
		b.Fatalf("Failed to create forwarder: %v", err)
	}
	defer forwarder.Close()

	telegram := make([]byte, 8192)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		forwarder.ForwardAsync(telegram)
	}
}
