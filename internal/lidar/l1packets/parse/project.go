package parse

import (
	"fmt"

	"github.com/banshee-data/compact.report/internal/lidar"
)

// RangeLimits is the open interval (Min, Max) in metres a distance must fall
// in to produce a point.
type RangeLimits struct {
	Min float64
	Max float64
}

// DefaultRangeLimits returns (0.1 m, 120 m).
func DefaultRangeLimits() RangeLimits {
	return RangeLimits{Min: DEFAULT_MIN_RANGE, Max: DEFAULT_MAX_RANGE}
}

// Contains reports whether d lies strictly inside the limits.
func (r RangeLimits) Contains(d float64) bool {
	return d > r.Min && d < r.Max
}

// Validate checks that the limits describe a non-empty interval.
func (r RangeLimits) Validate() error {
	if r.Min < 0 {
		return fmt.Errorf("min range %.3f must be >= 0", r.Min)
	}
	if r.Max <= r.Min {
		return fmt.Errorf("max range %.3f must exceed min range %.3f", r.Max, r.Min)
	}
	return nil
}

// ExplicitTheta converts a wire azimuth to radians.
func ExplicitTheta(raw uint16) float64 {
	return (float64(raw) - AZIMUTH_CENTER) / AZIMUTH_SCALE
}

// InterpolateTheta spreads numBeams beams linearly from start to stop.
// With a single beam the start angle is used.
func InterpolateTheta(start, stop float32, beam, numBeams int) float64 {
	if numBeams <= 1 {
		return float64(start)
	}
	step := (float64(stop) - float64(start)) / float64(numBeams-1)
	return float64(start) + float64(beam)*step
}

// DistanceMetres converts a raw distance to metres.
func DistanceMetres(raw uint16, scale float32) float64 {
	return float64(raw) * float64(scale) / MILLIMETRES_PER_METRE
}

// Projector turns tuples into sensor-frame points.
type Projector struct {
	Limits RangeLimits
	// Pose, when set, is applied to every projected point.
	Pose *[16]float64
}

// Theta returns the azimuth of tuple t, explicit when the module carries
// one, interpolated otherwise.
func (p Projector) Theta(t MeasurementTuple, meta *ModuleMetadata) float64 {
	if t.Flags.HasAzimuth() {
		return ExplicitTheta(t.AzimuthRaw)
	}
	return InterpolateTheta(meta.ThetaStart[t.Layer], meta.ThetaStop[t.Layer], t.Beam, meta.Beams())
}

// Project converts t into a point. ok is false when the module carries no
// distance or the distance falls outside the limits.
func (p Projector) Project(t MeasurementTuple, meta *ModuleMetadata) (pt lidar.Point, ok bool) {
	if !t.Flags.HasDistance() {
		return pt, false
	}
	d := DistanceMetres(t.DistanceRaw, meta.DistanceScalingFactor)
	if !p.Limits.Contains(d) {
		return pt, false
	}

	phi := float64(meta.Phi[t.Layer])
	theta := p.Theta(t, meta)
	x, y, z := lidar.SphericalToCartesian(d, phi, theta)
	if p.Pose != nil {
		x, y, z = lidar.ApplyPose(x, y, z, *p.Pose)
	}

	return lidar.Point{
		X:               x,
		Y:               y,
		Z:               z,
		Distance:        d,
		Phi:             phi,
		Theta:           theta,
		RSSI:            t.RSSI,
		Property:        t.Property,
		Layer:           t.Layer,
		Beam:            t.Beam,
		Echo:            t.Echo,
		SensorTimeStart: meta.TimeStampStart[t.Layer],
		FrameNumber:     meta.FrameNumber,
		SegmentCounter:  meta.SegmentCounter,
	}, true
}
