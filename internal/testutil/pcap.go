package testutil

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// WriteCompactPCAP writes payloads as unfragmented Ethernet/IPv4/UDP frames
// to dstPort, 10ms apart, and returns the capture path under t.TempDir().
func WriteCompactPCAP(t testing.TB, dstPort int, payloads ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "compact.pcap")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create pcap: %v", err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("pcap header: %v", err)
	}

	epoch := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	for i, payload := range payloads {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x00, 0x06, 0x77, 0x01, 0x02, 0x03},
			DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      64,
			Id:       uint16(i + 1),
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IPv4(192, 168, 0, 1),
			DstIP:    net.IPv4(192, 168, 0, 100),
		}
		udp := &layers.UDP{SrcPort: 40000, DstPort: layers.UDPPort(dstPort)}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			t.Fatalf("udp checksum layer: %v", err)
		}
		buf := gopacket.NewSerializeBuffer()
		if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
			t.Fatalf("serialize frame %d: %v", i, err)
		}
		frame := buf.Bytes()
		ci := gopacket.CaptureInfo{
			Timestamp:     epoch.Add(time.Duration(i) * 10 * time.Millisecond),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		if err := w.WritePacket(ci, frame); err != nil {
			t.Fatalf("write frame %d: %v", i, err)
		}
	}
	return path
}
