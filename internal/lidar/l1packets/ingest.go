package l1packets

import (
	"github.com/banshee-data/compact.report/internal/lidar/l1packets/network"
	"github.com/banshee-data/compact.report/internal/lidar/l1packets/parse"
)

// Type aliases re-export telegram ingestion and decoding types from the
// network/ and parse/ subpackages so callers can import one package.

// Ingestion types (from network/).

// UDPListener receives Compact Format telegrams over UDP.
type UDPListener = network.UDPListener

// UDPListenerConfig configures the UDP listener.
type UDPListenerConfig = network.UDPListenerConfig

// PCAPReplayConfig configures PCAP replay.
type PCAPReplayConfig = network.PCAPReplayConfig

// NewUDPListener creates a configured UDP telegram listener.
var NewUDPListener = network.NewUDPListener

// ReplayPCAP replays Compact Format telegrams from a capture file.
var ReplayPCAP = network.ReplayPCAP

// Decoding types (from parse/).

// Decoder decodes Compact Format telegrams.
type Decoder = parse.Decoder

// DecoderConfig configures a Decoder.
type DecoderConfig = parse.Config

// Telegram is one decoded datagram.
type Telegram = parse.Telegram

// NewDecoder creates a telegram decoder.
var NewDecoder = parse.NewDecoder
