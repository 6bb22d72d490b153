// Package visualiser fans flushed scans out to live consumers: gRPC
// streaming clients and the monitor's WebSocket.
package visualiser

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"

	"github.com/banshee-data/compact.report/internal/lidar/l2frames"
	"github.com/banshee-data/compact.report/internal/monitoring"
)

// Config holds configuration for the Publisher and its gRPC server.
type Config struct {
	// ListenAddr is the gRPC listen address, e.g. "localhost:50051".
	ListenAddr string
	SensorID   string
	// MaxClients caps concurrent subscribers (0 = unlimited).
	MaxClients int
	// SubscriberBuffer is the per-subscriber queue length (default: 4).
	SubscriberBuffer int
	// QueueSize bounds scans waiting for broadcast (default: 16).
	QueueSize int
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:       "localhost:50051",
		SensorID:         "compact-01",
		MaxClients:       8,
		SubscriberBuffer: 4,
		QueueSize:        16,
	}
}

// Publisher broadcasts scans to subscribers. Slow subscribers lose scans
// rather than stalling the broadcast.
type Publisher struct {
	config Config

	scanCh    chan *l2frames.Scan
	clients   map[string]*subscriber
	clientsMu sync.RWMutex
	nextID    atomic.Uint64

	server   *grpc.Server
	listener net.Listener

	published   atomic.Uint64
	dropped     atomic.Uint64
	clientCount atomic.Int32

	running  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type subscriber struct {
	id     string
	scanCh chan *l2frames.Scan
}

// NewPublisher creates a Publisher. Call Run or Start before publishing.
func NewPublisher(cfg Config) *Publisher {
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	return &Publisher{
		config:  cfg,
		scanCh:  make(chan *l2frames.Scan, cfg.QueueSize),
		clients: make(map[string]*subscriber),
		stopCh:  make(chan struct{}),
	}
}

// Run starts the broadcast loop without a gRPC server.
func (p *Publisher) Run() {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	p.wg.Add(1)
	go p.broadcastLoop()
}

// Start runs the broadcast loop and serves gRPC on the configured address.
func (p *Publisher) Start() error {
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve runs the broadcast loop and serves gRPC on lis in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if p.running.Load() {
		return fmt.Errorf("publisher already running")
	}
	// Full-resolution scans can exceed the 4MB default.
	const maxMsgSize = 16 * 1024 * 1024
	p.server = grpc.NewServer(grpc.MaxSendMsgSize(maxMsgSize))
	RegisterScanStreamServer(p.server, NewServer(p))
	p.listener = lis
	p.Run()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		monitoring.Logf("[Visualiser] gRPC server listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			monitoring.Logf("[Visualiser] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop stops the gRPC server and the broadcast loop and closes every
// subscriber channel.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		p.running.Store(false)
		close(p.stopCh)
		if p.server != nil {
			p.server.Stop()
		}
		p.wg.Wait()

		p.clientsMu.Lock()
		for id, c := range p.clients {
			close(c.scanCh)
			delete(p.clients, id)
		}
		p.clientsMu.Unlock()
		p.clientCount.Store(0)
	})
}

// Publish queues a scan for broadcast. It never blocks.
func (p *Publisher) Publish(scan *l2frames.Scan) {
	if scan == nil || !p.running.Load() {
		return
	}
	select {
	case p.scanCh <- scan:
		p.published.Add(1)
	default:
		n := p.dropped.Add(1)
		monitoring.Logf("[Visualiser] dropped %s (total dropped: %d), queue full", scan, n)
	}
}

func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case scan := <-p.scanCh:
			p.clientsMu.RLock()
			for _, c := range p.clients {
				select {
				case c.scanCh <- scan:
				default:
					p.dropped.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

// Subscribe registers a consumer. The returned channel is closed by the
// cancel func or by Stop.
func (p *Publisher) Subscribe(prefix string) (<-chan *l2frames.Scan, func(), error) {
	if !p.running.Load() {
		return nil, nil, fmt.Errorf("publisher not running")
	}
	p.clientsMu.Lock()
	if p.config.MaxClients > 0 && len(p.clients) >= p.config.MaxClients {
		p.clientsMu.Unlock()
		return nil, nil, fmt.Errorf("too many subscribers (max %d)", p.config.MaxClients)
	}
	id := fmt.Sprintf("%s-%d", prefix, p.nextID.Add(1))
	c := &subscriber{id: id, scanCh: make(chan *l2frames.Scan, p.config.SubscriberBuffer)}
	p.clients[id] = c
	p.clientsMu.Unlock()
	n := p.clientCount.Add(1)
	monitoring.Logf("[Visualiser] Client connected: %s (total: %d)", id, n)

	var once sync.Once
	cancel := func() {
		once.Do(func() { p.removeClient(id) })
	}
	return c.scanCh, cancel, nil
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	c, ok := p.clients[id]
	if ok {
		close(c.scanCh)
		delete(p.clients, id)
	}
	p.clientsMu.Unlock()
	if ok {
		n := p.clientCount.Add(-1)
		monitoring.Logf("[Visualiser] Client disconnected: %s (remaining: %d)", id, n)
	}
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
	ClientCount int32  `json:"client_count"`
	Running     bool   `json:"running"`
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Published:   p.published.Load(),
		Dropped:     p.dropped.Load(),
		ClientCount: p.clientCount.Load(),
		Running:     p.running.Load(),
	}
}

// Addr returns the gRPC listen address, or nil before Serve.
func (p *Publisher) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}
