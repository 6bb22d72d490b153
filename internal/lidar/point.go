package lidar

// Point is one valid return projected into the sensor frame.
// Distances and coordinates are in metres, angles in radians.
type Point struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	Distance float64 `json:"distance"`
	Phi      float64 `json:"phi"`
	Theta    float64 `json:"theta"`

	// RSSI is zero when the module does not carry intensity.
	RSSI     uint16 `json:"rssi"`
	Property uint8  `json:"property,omitempty"`

	Layer  int `json:"layer"`
	Beam   int `json:"beamIdx"`
	Echo   int `json:"channel"`
	Module int `json:"module"`
	// SensorTimeStart is the layer's start timestamp in sensor microseconds.
	SensorTimeStart uint64 `json:"ts,omitempty"`

	TelegramCounter uint64 `json:"telegramCounter"`
	FrameNumber     uint64 `json:"frameNumber"`
	SegmentCounter  uint64 `json:"segmentCounter"`
}

// Bounds returns the axis-aligned extent of points. ok is false for an
// empty slice.
func Bounds(points []Point) (min, max [3]float64, ok bool) {
	if len(points) == 0 {
		return min, max, false
	}
	min = [3]float64{points[0].X, points[0].Y, points[0].Z}
	max = min
	for _, p := range points[1:] {
		v := [3]float64{p.X, p.Y, p.Z}
		for i := range v {
			if v[i] < min[i] {
				min[i] = v[i]
			}
			if v[i] > max[i] {
				max[i] = v[i]
			}
		}
	}
	return min, max, true
}
