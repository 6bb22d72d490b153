// compact-parse decodes hex-encoded Compact telegrams, one per input line,
// and writes one {"points": [...]} JSON object per line. Malformed lines
// produce an empty point list.
package main

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/banshee-data/compact.report/internal/lidar"
	"github.com/banshee-data/compact.report/internal/lidar/l1packets"
)

var (
	minRange = flag.Float64("min-range", 0.1, "Minimum valid distance in metres (exclusive)")
	maxRange = flag.Float64("max-range", 120.0, "Maximum valid distance in metres (exclusive)")
	verbose  = flag.Bool("v", false, "Report decode failures on stderr")
)

// maxLineBytes fits the hex encoding of a 64KB datagram. Longer lines are
// skipped and reported as malformed.
const maxLineBytes = 2*64*1024 + 2

var errLineTooLong = fmt.Errorf("line exceeds %d bytes", maxLineBytes)

type lineResult struct {
	Points []lidar.Point `json:"points"`
}

func main() {
	flag.Parse()

	cfg := l1packets.DecoderConfig{}
	cfg.Limits.Min = *minRange
	cfg.Limits.Max = *maxRange
	if err := cfg.Limits.Validate(); err != nil {
		log.Fatalf("invalid range: %v", err)
	}
	dec := l1packets.NewDecoder(cfg)

	if err := run(os.Stdin, os.Stdout, dec, *verbose); err != nil {
		log.Fatal(err)
	}
}

// run decodes every line of in and writes one JSON line per input line.
func run(in io.Reader, out io.Writer, dec *l1packets.Decoder, verbose bool) error {
	r := bufio.NewReaderSize(in, 64*1024)
	w := bufio.NewWriter(out)
	enc := json.NewEncoder(w)

	line := 0
	for {
		text, err := readLine(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil && !errors.Is(err, errLineTooLong) {
			return fmt.Errorf("read input: %w", err)
		}
		line++

		var points []lidar.Point
		if err == nil {
			points, err = decodeLine(dec, text)
		}
		if err != nil {
			if verbose {
				log.Printf("line %d: %v", line, err)
			}
			points = []lidar.Point{}
		}
		if err := enc.Encode(lineResult{Points: points}); err != nil {
			return err
		}
		// Flush per line so a pipe consumer sees results as they arrive.
		if err := w.Flush(); err != nil {
			return err
		}
	}
}

// readLine returns the next line without its terminator. A line longer than
// maxLineBytes is consumed and reported as errLineTooLong. io.EOF is
// returned only when no bytes remain.
func readLine(r *bufio.Reader) (string, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > maxLineBytes+1 {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if tooLong {
				return "", errLineTooLong
			}
			if len(buf) == 0 {
				return "", io.EOF
			}
			return strings.TrimRight(string(buf), "\r"), nil
		case err != nil:
			return "", err
		}
		if tooLong {
			return "", errLineTooLong
		}
		return strings.TrimRight(string(buf), "\r\n"), nil
	}
}

func decodeLine(dec *l1packets.Decoder, text string) ([]lidar.Point, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(text))
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	points, err := dec.ParsePacket(raw)
	if err != nil {
		return nil, err
	}
	if points == nil {
		points = []lidar.Point{}
	}
	return points, nil
}
