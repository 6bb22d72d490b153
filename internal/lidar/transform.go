package lidar

import "math"

// SphericalToCartesian converts a range in metres plus elevation phi and
// azimuth theta (both radians) into sensor-frame Cartesian coordinates.
// Coordinate convention: X=forward at theta 0, Y=left, Z=up.
func SphericalToCartesian(distance, phi, theta float64) (x, y, z float64) {
	cosPhi := math.Cos(phi)
	x = distance * cosPhi * math.Cos(theta)
	y = distance * cosPhi * math.Sin(theta)
	z = distance * math.Sin(phi)
	return
}

// ApplyPose applies a 4x4 row-major transform T to point (x,y,z).
// T is expected as [16]float64 row-major: m00,m01,m02,m03, m10,...
func ApplyPose(x, y, z float64, T [16]float64) (wx, wy, wz float64) {
	wx = T[0]*x + T[1]*y + T[2]*z + T[3]
	wy = T[4]*x + T[5]*y + T[6]*z + T[7]
	wz = T[8]*x + T[9]*y + T[10]*z + T[11]
	return
}

// IdentityPose returns the 4x4 identity transform.
func IdentityPose() [16]float64 {
	return [16]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}
