package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/banshee-data/compact.report/internal/lidar/l1packets/parse"
)

// DefaultCompactPort is the scanner's default Compact Format UDP port.
const DefaultCompactPort = 2115

// MAX_DATAGRAM_SIZE is the receive buffer per read. Compact telegrams are
// sent as single unfragmented datagrams up to the UDP maximum.
const MAX_DATAGRAM_SIZE = 65535

// PacketStatsInterface provides telegram statistics management.
type PacketStatsInterface interface {
	AddPacket(bytes int)
	AddDropped()
	AddPoints(count int)
	AddMalformed(reason string)
	LogStats(parsePackets bool)
}

// Decoder turns one datagram into a telegram.
type Decoder interface {
	Decode(packet []byte) (*parse.Telegram, error)
}

// TelegramHandler receives every telegram that decoded at least one module.
type TelegramHandler interface {
	HandleTelegram(t *parse.Telegram)
}

// UDPListener receives Compact Format telegrams over UDP and hands decoded
// telegrams to a handler.
type UDPListener struct {
	address        string
	rcvBuf         int
	logInterval    time.Duration
	connMu         sync.RWMutex
	conn           UDPSocket
	stats          PacketStatsInterface
	forwarder      *PacketForwarder
	decoder        Decoder
	handler        TelegramHandler
	disableParsing bool
	socketFactory  UDPSocketFactory
}

// UDPListenerConfig contains configuration options for the UDP listener.
type UDPListenerConfig struct {
	Address        string
	RcvBuf         int
	LogInterval    time.Duration
	Stats          PacketStatsInterface
	Forwarder      *PacketForwarder
	Decoder        Decoder
	Handler        TelegramHandler
	DisableParsing bool
	SocketFactory  UDPSocketFactory // Optional: defaults to real sockets
}

// NewUDPListener creates a new UDP listener with the provided configuration.
func NewUDPListener(config UDPListenerConfig) *UDPListener {
	stats := config.Stats
	if stats == nil {
		stats = noopStats{}
	}

	logInterval := config.LogInterval
	if logInterval == 0 {
		logInterval = time.Minute
	}

	socketFactory := config.SocketFactory
	if socketFactory == nil {
		socketFactory = NewRealUDPSocketFactory()
	}

	address := config.Address
	if address == "" {
		address = fmt.Sprintf(":%d", DefaultCompactPort)
	}

	return &UDPListener{
		address:        address,
		rcvBuf:         config.RcvBuf,
		logInterval:    logInterval,
		stats:          stats,
		forwarder:      config.Forwarder,
		decoder:        config.Decoder,
		handler:        config.Handler,
		disableParsing: config.DisableParsing,
		socketFactory:  socketFactory,
	}
}

// noopStats is the default when no stats collector is provided.
type noopStats struct{}

func (noopStats) AddPacket(int)       {}
func (noopStats) AddDropped()         {}
func (noopStats) AddPoints(int)       {}
func (noopStats) AddMalformed(string) {}
func (noopStats) LogStats(bool)       {}

// Start listens until ctx is cancelled or the socket is closed. Decode
// errors are counted and logged; they never stop the loop.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := l.socketFactory.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	l.setConn(conn)
	defer conn.Close()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			opsf("Warning: failed to set UDP receive buffer size to %d: %v", l.rcvBuf, err)
		}
	}

	opsf("UDP listener started on %s with receive buffer %d bytes", conn.LocalAddr(), l.rcvBuf)

	if l.forwarder != nil {
		l.forwarder.Start(ctx)
	}

	go l.startStatsLogging(ctx)

	buffer := make([]byte, MAX_DATAGRAM_SIZE)
	var deadlineErrLogged bool

	for {
		select {
		case <-ctx.Done():
			opsf("UDP listener stopping due to context cancellation")
			return ctx.Err()
		default:
		}

		// Short deadline so cancellation is noticed between datagrams.
		if err := conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil && !deadlineErrLogged {
			opsf("failed to set read deadline: %v", err)
			deadlineErrLogged = true
		}

		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			opsf("UDP read error: %v", err)
			continue
		}

		l.handlePacket(buffer[:n], from)
	}
}

func (l *UDPListener) startStatsLogging(ctx context.Context) {
	// First report shortly after startup, then on the configured interval.
	select {
	case <-ctx.Done():
		return
	case <-time.After(2 * time.Second):
		l.stats.LogStats(!l.disableParsing)
	}

	ticker := time.NewTicker(l.logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats(!l.disableParsing)
		}
	}
}

// handlePacket processes one datagram. packet aliases the receive buffer
// and is only valid for the duration of the call.
func (l *UDPListener) handlePacket(packet []byte, from *net.UDPAddr) {
	l.stats.AddPacket(len(packet))

	if l.forwarder != nil {
		l.forwarder.ForwardAsync(packet)
	}

	if l.decoder == nil || l.disableParsing {
		return
	}

	tel, err := l.decoder.Decode(packet)
	if err != nil {
		l.stats.AddMalformed(parse.KindOf(err).String())
		diagf("telegram from %v: %v", from, err)
	}
	if tel == nil {
		return
	}

	l.stats.AddPoints(len(tel.Points))
	if l.handler != nil && len(tel.Modules) > 0 {
		l.handler.HandleTelegram(tel)
	}
}

func (l *UDPListener) setConn(conn UDPSocket) {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	l.conn = conn
}

// GetConn returns the active socket, or nil before Start.
func (l *UDPListener) GetConn() UDPSocket {
	l.connMu.RLock()
	defer l.connMu.RUnlock()
	return l.conn
}

// Close closes the socket, unblocking Start. Safe to call multiple times.
func (l *UDPListener) Close() error {
	l.connMu.Lock()
	conn := l.conn
	l.conn = nil
	l.connMu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
