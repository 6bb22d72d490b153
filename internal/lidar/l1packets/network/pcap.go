package network

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/ip4defrag"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/compact.report/internal/lidar/l1packets/parse"
)

const pcapngMagic = 0x0A0D0D0A

// PCAPReplayConfig configures replay of a capture file.
type PCAPReplayConfig struct {
	// UDPPort filters datagrams by source or destination port. Zero accepts
	// any UDP datagram that starts with the Compact start-of-frame marker.
	UDPPort int

	// Realtime paces replay by capture timestamps.
	Realtime bool
	// SpeedMultiplier scales realtime pacing (2.0 = twice as fast).
	SpeedMultiplier float64

	Stats     PacketStatsInterface
	Forwarder *PacketForwarder
	Decoder   Decoder
	Handler   TelegramHandler
}

// ReplayResult summarises a replay.
type ReplayResult struct {
	Datagrams int
	Telegrams int
	Malformed int
	Points    int
	Elapsed   time.Duration
}

// ReplayPCAP feeds every Compact telegram in a pcap or pcapng file through
// the decoder and handler, exactly as the UDP listener would.
func ReplayPCAP(ctx context.Context, path string, cfg PCAPReplayConfig) (ReplayResult, error) {
	stats := cfg.Stats
	if stats == nil {
		stats = noopStats{}
	}
	speed := cfg.SpeedMultiplier
	if speed <= 0 {
		speed = 1.0
	}

	var res ReplayResult
	start := time.Now()
	var lastCapture time.Time

	err := forEachUDPPayload(ctx, path, cfg.UDPPort, func(payload []byte, captured time.Time) error {
		if cfg.Realtime {
			if !lastCapture.IsZero() {
				delay := time.Duration(float64(captured.Sub(lastCapture)) / speed)
				if delay > 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(delay):
					}
				}
			}
			lastCapture = captured
		}

		res.Datagrams++
		stats.AddPacket(len(payload))
		if cfg.Forwarder != nil {
			cfg.Forwarder.ForwardAsync(payload)
		}
		if cfg.Decoder == nil {
			return nil
		}

		tel, err := cfg.Decoder.Decode(payload)
		if err != nil {
			res.Malformed++
			stats.AddMalformed(parse.KindOf(err).String())
			diagf("PCAP datagram %d: %v", res.Datagrams, err)
		}
		if tel == nil {
			return nil
		}
		res.Telegrams++
		res.Points += len(tel.Points)
		stats.AddPoints(len(tel.Points))
		if cfg.Handler != nil && len(tel.Modules) > 0 {
			cfg.Handler.HandleTelegram(tel)
		}

		if res.Datagrams%10000 == 0 {
			elapsed := time.Since(start)
			diagf("PCAP progress: %d datagrams in %v (%.0f/s)",
				res.Datagrams, elapsed, float64(res.Datagrams)/elapsed.Seconds())
		}
		return nil
	})
	res.Elapsed = time.Since(start)
	if err != nil {
		return res, err
	}

	opsf("PCAP replay complete: %d datagrams, %d telegrams, %d malformed, %d points in %v",
		res.Datagrams, res.Telegrams, res.Malformed, res.Points, res.Elapsed)
	return res, nil
}

// CountPCAPPackets counts the Compact datagrams ReplayPCAP would process,
// for progress reporting.
func CountPCAPPackets(path string, udpPort int) (uint64, error) {
	var count uint64
	err := forEachUDPPayload(context.Background(), path, udpPort, func([]byte, time.Time) error {
		count++
		return nil
	})
	return count, err
}

// forEachUDPPayload walks a capture, reassembling fragmented IPv4 datagrams,
// and calls fn with each matching UDP payload.
func forEachUDPPayload(ctx context.Context, path string, udpPort int, fn func([]byte, time.Time) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer f.Close()

	src, linkType, err := openCapture(bufio.NewReader(f))
	if err != nil {
		return fmt.Errorf("failed to read PCAP file %s: %w", path, err)
	}

	packets := gopacket.NewPacketSource(src, linkType)
	packets.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}
	defrag := ip4defrag.NewIPv4Defragmenter()
	lastDiscard := time.Time{}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		packet, err := packets.NextPacket()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			tracef("skipping unreadable capture record: %v", err)
			continue
		}
		captured := packet.Metadata().Timestamp

		udp := udpLayer(packet, defrag, captured)
		if udp == nil {
			continue
		}
		if udpPort > 0 && int(udp.DstPort) != udpPort && int(udp.SrcPort) != udpPort {
			continue
		}
		if udpPort == 0 && !parse.IsCompactTelegram(udp.Payload) {
			continue
		}
		if len(udp.Payload) == 0 {
			continue
		}

		if err := fn(udp.Payload, captured); err != nil {
			return err
		}

		if captured.Sub(lastDiscard) > 10*time.Second {
			defrag.DiscardOlderThan(captured.Add(-30 * time.Second))
			lastDiscard = captured
		}
	}
}

// udpLayer returns the UDP layer of packet, reassembling IPv4 fragments.
// It returns nil for non-UDP packets and incomplete fragment sets.
func udpLayer(packet gopacket.Packet, defrag *ip4defrag.IPv4Defragmenter, ts time.Time) *layers.UDP {
	if ipl := packet.Layer(layers.LayerTypeIPv4); ipl != nil {
		ip4 := ipl.(*layers.IPv4)
		if ip4.Flags&layers.IPv4MoreFragments != 0 || ip4.FragOffset != 0 {
			whole, err := defrag.DefragIPv4WithTimestamp(ip4, ts)
			if err != nil {
				tracef("IPv4 reassembly failed: %v", err)
				return nil
			}
			if whole == nil {
				return nil
			}
			if whole.Protocol != layers.IPProtocolUDP {
				return nil
			}
			reassembled := gopacket.NewPacket(whole.Payload, layers.LayerTypeUDP, gopacket.Default)
			if l := reassembled.Layer(layers.LayerTypeUDP); l != nil {
				return l.(*layers.UDP)
			}
			return nil
		}
	}
	if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		return l.(*layers.UDP)
	}
	return nil
}

// openCapture detects pcap or pcapng from the file magic.
func openCapture(r *bufio.Reader) (gopacket.PacketDataSource, layers.LinkType, error) {
	magic, err := r.Peek(4)
	if err != nil {
		return nil, 0, err
	}
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		ng, err := pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, 0, err
		}
		return ng, ng.LinkType(), nil
	}
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, 0, err
	}
	return pr, pr.LinkType(), nil
}
