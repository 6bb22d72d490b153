// Package l2frames owns Layer 2 (Scans) of the LiDAR data model.
//
// Responsibilities: grouping decoded Compact telegrams that share a scan key
// into complete scans and handing each finished scan to a serialised
// callback. Key types: Scan, ScanBuilder, AggregationKey.
//
// Dependency rule: L2 may depend on L1, but never on L3+.
package l2frames
