// Package l1packets owns Layer 1 (Telegrams) of the Compact Format data model.
//
// Responsibilities: UDP telegram ingestion, PCAP replay, and low-level
// byte decoding. This layer produces decoded telegrams consumed by
// L2 (Scans).
//
// Dependency rule: L1 has no inward dependencies on higher layers.
package l1packets
