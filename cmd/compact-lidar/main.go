package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/compact.report/internal/config"
	"github.com/banshee-data/compact.report/internal/db"
	"github.com/banshee-data/compact.report/internal/fsutil"
	"github.com/banshee-data/compact.report/internal/lidar"
	"github.com/banshee-data/compact.report/internal/lidar/export"
	"github.com/banshee-data/compact.report/internal/lidar/l1packets/network"
	"github.com/banshee-data/compact.report/internal/lidar/l1packets/parse"
	"github.com/banshee-data/compact.report/internal/lidar/l2frames"
	"github.com/banshee-data/compact.report/internal/lidar/monitor"
	"github.com/banshee-data/compact.report/internal/lidar/pipeline"
	"github.com/banshee-data/compact.report/internal/lidar/storage/sqlite"
	"github.com/banshee-data/compact.report/internal/lidar/visualiser"
	"github.com/banshee-data/compact.report/internal/monitoring"
	"github.com/banshee-data/compact.report/internal/timeutil"
	"github.com/banshee-data/compact.report/internal/version"
)

var (
	listen         = flag.String("listen", ":8081", "HTTP listen address")
	udpPort        = flag.Int("udp-port", 2115, "UDP port to listen for Compact telegrams")
	udpAddress     = flag.String("udp-addr", "", "UDP bind address (default: listen on all interfaces)")
	parsePackets   = flag.Bool("parse", true, "Decode telegrams into points (disable to only count and forward)")
	forwardPackets = flag.Bool("forward", false, "Forward received UDP datagrams to another port")
	forwardPort    = flag.Int("forward-port", 2116, "Port to forward UDP datagrams to")
	forwardAddr    = flag.String("forward-addr", "localhost", "Address to forward UDP datagrams to")
	dbFile         = flag.String("db", "compact_data.db", "Path to the SQLite database file (empty disables storage)")
	configFile     = flag.String("config", config.DefaultConfigPath, "Path to the JSON runtime configuration")
	rcvBuf         = flag.Int("rcvbuf", 4<<20, "UDP receive buffer size in bytes (default 4MB)")
	grpcListen     = flag.String("grpc-listen", "", "gRPC scan stream listen address, e.g. localhost:50051 (empty disables)")
	dumpDir        = flag.String("dump-dir", "", "Directory for scan dumps and exports (empty disables)")
	dumpScans      = flag.Bool("dump-scans", false, "Write every flushed scan as JSON to -dump-dir")
	pcapFile       = flag.String("pcap", "", "Replay a pcap/pcapng capture instead of listening on UDP")
	pcapRealtime   = flag.Bool("pcap-realtime", false, "Pace PCAP replay by capture timestamps")
	pcapSpeed      = flag.Float64("pcap-speed", 1.0, "Realtime replay speed multiplier")
	logInterval    = flag.Duration("log-interval", 0, "Statistics logging interval (default from config)")
	debugDecode    = flag.Bool("debug", false, "Log decoded telegram details")
	debugTelegrams = flag.Int("debug-telegrams", 0, "Telegrams logged with -debug (0 uses the decoder default)")
	showVersion    = flag.Bool("version", false, "Print version and exit")
)

// debugLogEnv routes every package log stream to one file when set.
const debugLogEnv = "COMPACT_DEBUG_LOG"

func main() {
	// The migrate subcommand takes its own arguments.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		fs := flag.NewFlagSet("migrate", flag.ExitOnError)
		path := fs.String("db", "compact_data.db", "Path to the SQLite database file")
		fs.Parse(os.Args[2:])
		if err := db.RunMigrateCommand(fs.Args(), *path, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("compact-lidar"))
		return
	}
	if *listen == "" {
		log.Fatal("HTTP listen address is required")
	}

	closeLog, err := configureLogging(os.Getenv(debugLogEnv), os.Stderr)
	if err != nil {
		log.Fatalf("Failed to open debug log: %v", err)
	}
	defer closeLog()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("compact-lidar: %v", err)
	}
	log.Print("compact-lidar stopped")
}

// loadConfig reads path, falling back to built-in defaults when the
// default file is missing.
func loadConfig(path string) (*config.CompactConfig, error) {
	cfg, err := config.LoadCompactConfig(path)
	if err == nil {
		return cfg, nil
	}
	if path == config.DefaultConfigPath && errors.Is(err, os.ErrNotExist) {
		log.Printf("No configuration at %s, using defaults", path)
		return config.EmptyCompactConfig(), nil
	}
	return nil, err
}

// configureLogging sends ops messages to stderr and, when debugPath is set,
// every stream of every package to that file.
func configureLogging(debugPath string, stderr io.Writer) (func(), error) {
	w := monitoring.LogWriters{Ops: stderr}
	closeFn := func() {}
	if debugPath != "" {
		f, err := os.OpenFile(debugPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return closeFn, err
		}
		w = monitoring.AllTo(io.MultiWriter(stderr, f))
		closeFn = func() { f.Close() }
	}
	parse.SetLogWriters(w.Ops, w.Diag, w.Trace)
	network.SetLogWriters(w.Ops, w.Diag, w.Trace)
	l2frames.SetLogWriters(w.Ops, w.Diag, w.Trace)
	pipeline.SetLogWriters(w.Ops, w.Diag, w.Trace)
	monitor.SetLogWriters(w.Ops, w.Diag, w.Trace)
	return closeFn, nil
}

// udpListenAddress joins the optional bind address with the port.
func udpListenAddress(addr string, port int) string {
	if addr == "" {
		return fmt.Sprintf(":%d", port)
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

// runtimeConfig maps the JSON configuration onto the sensor runtime.
func runtimeConfig(cfg *config.CompactConfig) (pipeline.RuntimeConfig, error) {
	key, err := l2frames.ParseAggregationKey(cfg.GetAggregationKey())
	if err != nil {
		return pipeline.RuntimeConfig{}, err
	}
	return pipeline.RuntimeConfig{
		SensorID:       cfg.GetSensorID(),
		Limits:         parse.RangeLimits{Min: cfg.GetMinRangeM(), Max: cfg.GetMaxRangeM()},
		Pose:           cfg.GetSensorPose(),
		Key:            key,
		ScanQueueSize:  cfg.GetScanQueueSize(),
		Retention:      cfg.GetScanRetention(),
		Debug:          *debugDecode,
		DebugTelegrams: *debugTelegrams,
	}, nil
}

func run(ctx context.Context, cfg *config.CompactConfig) error {
	rtCfg, err := runtimeConfig(cfg)
	if err != nil {
		return err
	}
	interval := *logInterval
	if interval <= 0 {
		interval = cfg.GetLogInterval()
	}
	stats := lidar.NewPacketStats()
	rtCfg.Stats = stats

	// Storage
	var database *db.DB
	var scanStore *sqlite.ScanStore
	if *dbFile != "" {
		database, err = db.NewDB(*dbFile)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()
		scanStore = sqlite.NewScanStore(database.DB, cfg.GetPersistPoints())
		rtCfg.Sinks.Persister = scanStore
		rtCfg.Pruner = scanStore
		rtCfg.Failures = sqlite.NewDecodeFailureStore(database.DB)
	} else {
		log.Print("Storage disabled (no -db)")
	}

	// Live scan stream
	pubCfg := visualiser.DefaultConfig()
	pubCfg.ListenAddr = *grpcListen
	pubCfg.SensorID = rtCfg.SensorID
	pubCfg.SubscriberBuffer = cfg.GetSubscriberBuffer()
	publisher := visualiser.NewPublisher(pubCfg)
	if *grpcListen != "" {
		if err := publisher.Start(); err != nil {
			return fmt.Errorf("failed to start gRPC scan stream: %w", err)
		}
	} else {
		// Websocket clients still subscribe without a gRPC listener.
		publisher.Run()
	}
	defer publisher.Stop()
	rtCfg.Sinks.Publisher = publisher

	var exporter *export.Exporter
	if *dumpDir != "" {
		exporter, err = export.NewExporter(*dumpDir, fsutil.OSFileSystem{}, timeutil.RealClock{})
		if err != nil {
			return fmt.Errorf("failed to prepare dump directory: %w", err)
		}
		if *dumpScans {
			rtCfg.Sinks.Dumper = exporter
		}
	}

	var web *monitor.WebServer
	rtCfg.Sinks.Observer = pipeline.ScanObserverFunc(func(s *l2frames.Scan) { web.RecordScan(s) })

	rt, err := pipeline.NewSensorRuntime(rtCfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	var forwarder *network.PacketForwarder
	if *forwardPackets {
		forwarder, err = network.NewPacketForwarder(*forwardAddr, *forwardPort, stats, interval)
		if err != nil {
			return fmt.Errorf("failed to create forwarder: %w", err)
		}
		defer forwarder.Close()
		log.Printf("Forwarding datagrams to %s", forwarder.Address())
	}

	web = monitor.NewWebServer(monitor.WebServerConfig{
		Address:           *listen,
		Stats:             stats,
		Decoder:           rt.Decoder,
		Builder:           rt.Builder,
		Publisher:         publisher,
		Store:             scanStore,
		Exporter:          exporter,
		DB:                database,
		ForwardingEnabled: *forwardPackets,
		ForwardAddr:       *forwardAddr,
		ForwardPort:       *forwardPort,
		ParsingEnabled:    *parsePackets,
		UDPPort:           *udpPort,
		SensorID:          rtCfg.SensorID,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := web.Start(ctx); err != nil {
			errCh <- err
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		rt.Run(ctx)
	}()

	if *pcapFile != "" {
		if forwarder != nil {
			forwarder.Start(ctx)
		}
		res, err := rt.ReplayPCAP(ctx, *pcapFile, network.PCAPReplayConfig{
			UDPPort:         *udpPort,
			Realtime:        *pcapRealtime,
			SpeedMultiplier: *pcapSpeed,
			Forwarder:       forwarder,
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("pcap replay: %w", err)
			cancel()
		} else {
			log.Printf("PCAP replay finished: %d datagrams, %d telegrams, %d malformed, %d points in %s",
				res.Datagrams, res.Telegrams, res.Malformed, res.Points, res.Elapsed.Round(time.Millisecond))
			log.Print("Serving replayed scans until interrupted")
		}
	} else {
		lcfg := rt.ListenerConfig(udpListenAddress(*udpAddress, *udpPort), *rcvBuf, forwarder, interval)
		lcfg.DisableParsing = !*parsePackets
		listener := network.NewUDPListener(lcfg)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := listener.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("UDP listener: %w", err)
				cancel()
			}
			log.Print("UDP listener routine terminated")
		}()
	}

	<-ctx.Done()
	wg.Wait()
	close(errCh)

	var errs error
	for err := range errCh {
		errs = multierr.Append(errs, err)
	}
	if errs != nil {
		return errs
	}
	return ctx.Err()
}
