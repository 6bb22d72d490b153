// Package export writes flushed scans to disk: JSON point dumps, CloudCompare
// ASC text and LAS point clouds.
package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/multierr"

	"github.com/banshee-data/compact.report/internal/fsutil"
	"github.com/banshee-data/compact.report/internal/lidar"
	"github.com/banshee-data/compact.report/internal/lidar/l2frames"
	"github.com/banshee-data/compact.report/internal/timeutil"
)

// Exporter writes scan files into a single directory.
type Exporter struct {
	dir   string
	fs    fsutil.FileSystem
	clock timeutil.Clock
}

// NewExporter creates dir if needed. A nil fsys uses the OS filesystem and
// a nil clock the wall clock.
func NewExporter(dir string, fsys fsutil.FileSystem, clock timeutil.Clock) (*Exporter, error) {
	if dir == "" {
		return nil, fmt.Errorf("export dir is empty")
	}
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	return &Exporter{dir: dir, fs: fsys, clock: clock}, nil
}

// Dir returns the export directory.
func (e *Exporter) Dir() string { return e.dir }

// DumpFilename is scan_<keyValue>_<unixnano><ext>.
func (e *Exporter) DumpFilename(scan *l2frames.Scan, ext string) string {
	return fmt.Sprintf("scan_%d_%d%s", scan.KeyValue, e.clock.Now().UnixNano(), ext)
}

func (e *Exporter) create(name string) (io.WriteCloser, string, error) {
	path, err := safePath(e.dir, name)
	if err != nil {
		return nil, "", err
	}
	w, err := e.fs.Create(path)
	if err != nil {
		return nil, "", err
	}
	return w, path, nil
}

// WriteJSON dumps the scan's points as a JSON array and returns the path.
func (e *Exporter) WriteJSON(scan *l2frames.Scan) (path string, err error) {
	w, path, err := e.create(e.DumpFilename(scan, ".json"))
	if err != nil {
		return "", err
	}
	defer func() { err = multierr.Append(err, w.Close()) }()

	bw := bufio.NewWriter(w)
	if err := EncodeJSON(bw, scan.Points); err != nil {
		return "", err
	}
	return path, bw.Flush()
}

// WriteASC writes the scan as CloudCompare ASC and returns the path.
func (e *Exporter) WriteASC(scan *l2frames.Scan) (path string, err error) {
	w, path, err := e.create(e.DumpFilename(scan, ".asc"))
	if err != nil {
		return "", err
	}
	defer func() { err = multierr.Append(err, w.Close()) }()

	bw := bufio.NewWriter(w)
	if err := EncodeASC(bw, scan.Points); err != nil {
		return "", err
	}
	log.Printf("Exported %d points to %s", len(scan.Points), path)
	return path, bw.Flush()
}

// WriteLAS writes the scan as a LAS point cloud. LAS output always goes to
// the OS filesystem.
func (e *Exporter) WriteLAS(scan *l2frames.Scan) (string, error) {
	path, err := safePath(e.dir, e.DumpFilename(scan, ".las"))
	if err != nil {
		return "", err
	}
	if err := WriteLAS(path, scan.Points); err != nil {
		return "", err
	}
	return path, nil
}

// EncodeJSON writes points as one JSON array.
func EncodeJSON(w io.Writer, points []lidar.Point) error {
	if points == nil {
		points = []lidar.Point{}
	}
	return json.NewEncoder(w).Encode(points)
}

// DecodeJSON reads a JSON point array written by EncodeJSON.
func DecodeJSON(r io.Reader) ([]lidar.Point, error) {
	var points []lidar.Point
	if err := json.NewDecoder(r).Decode(&points); err != nil {
		return nil, fmt.Errorf("decode scan dump: %w", err)
	}
	return points, nil
}

// EncodeASC writes X Y Z RSSI followed by layer, beam and echo columns.
func EncodeASC(w io.Writer, points []lidar.Point) error {
	if len(points) == 0 {
		return fmt.Errorf("no points to export")
	}
	if _, err := fmt.Fprintf(w, "# Exported points\n# Format: X Y Z Intensity Layer Beam Echo\n"); err != nil {
		return err
	}
	for _, p := range points {
		if _, err := fmt.Fprintf(w, "%.6f %.6f %.6f %d %d %d %d\n", p.X, p.Y, p.Z, p.RSSI, p.Layer, p.Beam, p.Echo); err != nil {
			return err
		}
	}
	return nil
}

// LatestDump returns the scan_*.json file in dir with the newest timestamp
// suffix.
func LatestDump(fsys fsutil.FileSystem, dir string) (string, error) {
	matches, err := fsys.Glob(filepath.Join(dir, "scan_*.json"))
	if err != nil {
		return "", err
	}
	type dump struct {
		path  string
		nanos int64
	}
	var dumps []dump
	for _, m := range matches {
		stem := strings.TrimSuffix(filepath.Base(m), ".json")
		i := strings.LastIndexByte(stem, '_')
		nanos, err := strconv.ParseInt(stem[i+1:], 10, 64)
		if err != nil {
			continue
		}
		dumps = append(dumps, dump{m, nanos})
	}
	if len(dumps) == 0 {
		return "", fmt.Errorf("no scan dumps in %s", dir)
	}
	sort.Slice(dumps, func(i, j int) bool { return dumps[i].nanos < dumps[j].nanos })
	return dumps[len(dumps)-1].path, nil
}
