// Package pipeline is the composition root of the Compact service. It
// builds the decoder and scan aggregator for one sensor and fans each
// flushed scan out to the configured sinks: SQLite, the live publisher,
// JSON dumps and the monitor.
//
// Layer packages (l1packets, l2frames) and the sinks never import
// pipeline.
package pipeline
