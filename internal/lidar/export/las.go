package export

import (
	"fmt"
	"math"

	"github.com/edaniels/lidario"
	"go.uber.org/multierr"

	"github.com/banshee-data/compact.report/internal/lidar"
)

// WriteLAS writes points as LAS point format 0 with RSSI as intensity and
// the layer index as the point source.
func WriteLAS(path string, points []lidar.Point) (err error) {
	if len(points) == 0 {
		return fmt.Errorf("no points to export")
	}
	lf, err := lidario.NewLasFile(path, "w")
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, lf.Close())
	}()

	if err = lf.AddHeader(lidario.LasHeader{PointFormatID: 0}); err != nil {
		return err
	}
	for _, p := range points {
		pr := &lidario.PointRecord0{
			X:         p.X,
			Y:         p.Y,
			Z:         p.Z,
			Intensity: p.RSSI,
			BitField: lidario.PointBitField{
				// return number 1 of 1
				Value: 1 | 1<<3,
			},
			PointSourceID: uint16(p.Layer),
		}
		if err = lf.AddLasPoint(pr); err != nil {
			return fmt.Errorf("add LAS point: %w", err)
		}
	}
	return nil
}

// ReadLAS returns the coordinates and intensities stored in a LAS file.
// Distance is the range from the LAS origin.
func ReadLAS(path string) (points []lidar.Point, err error) {
	lf, err := lidario.NewLasFile(path, "r")
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, lf.Close())
	}()

	points = make([]lidar.Point, 0, lf.Header.NumberPoints)
	for i := 0; i < lf.Header.NumberPoints; i++ {
		p, err := lf.LasPoint(i)
		if err != nil {
			return nil, err
		}
		d := p.PointData()
		points = append(points, lidar.Point{
			X: d.X, Y: d.Y, Z: d.Z,
			Distance: math.Sqrt(d.X*d.X + d.Y*d.Y + d.Z*d.Z),
			RSSI:     d.Intensity,
		})
	}
	return points, nil
}
