package n5ng

import (
	"fmt"
	"math"
)

// Point3d is an ordered list of three 64-bit signed integers.  Unless otherwise noted the
// components are in protocol order, i.e., X first.
type Point3d [3]int64

// String returns a string representation of the Point3d.
func (p Point3d) String() string {
	return fmt.Sprintf("(%d,%d,%d)", p[0], p[1], p[2])
}

// Add returns the addition of two points.
func (p Point3d) Add(p2 Point3d) Point3d {
	return Point3d{p[0] + p2[0], p[1] + p2[1], p[2] + p2[2]}
}

// Sub returns the subtraction of the passed point from the receiver.
func (p Point3d) Sub(p2 Point3d) Point3d {
	return Point3d{p[0] - p2[0], p[1] - p2[1], p[2] - p2[2]}
}

// Prod returns the product of the components, e.g., the number of voxels in an extent.
func (p Point3d) Prod() int64 {
	return p[0] * p[1] * p[2]
}

// Reverse returns the point with axis order reversed, e.g., ZYX for an XYZ point.
func (p Point3d) Reverse() Point3d {
	return Point3d{p[2], p[1], p[0]}
}

// Vector3d is a 3D vector of 64-bit floats, a recommended type for math operations.
type Vector3d [3]float64

func (v Vector3d) String() string {
	return fmt.Sprintf("(%.3f,%.3f,%.3f)", v[0], v[1], v[2])
}

// MultScalar returns the vector multiplied by a scalar.
func (v Vector3d) MultScalar(s float64) Vector3d {
	return Vector3d{v[0] * s, v[1] * s, v[2] * s}
}

// Mult returns the componentwise product of two vectors.
func (v Vector3d) Mult(v2 Vector3d) Vector3d {
	return Vector3d{v[0] * v2[0], v[1] * v2[1], v[2] * v2[2]}
}

// AllPositive returns true if every component is strictly positive and finite.
func (v Vector3d) AllPositive() bool {
	for _, c := range v {
		if !(c > 0) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// DivRound divides a physical coordinate componentwise by a resolution and rounds each
// component to the nearest integer.
func (v Vector3d) DivRound(res Vector3d) Point3d {
	var p Point3d
	for i := range v {
		p[i] = int64(math.Round(v[i] / res[i]))
	}
	return p
}

// ReverseAxes converts a store's C-order (depth-major, ZYX) dimensions into protocol
// order (width-major, XYZ).  Only 3d shapes are accepted.
func ReverseAxes(dims []int64) (Point3d, error) {
	if len(dims) != 3 {
		return Point3d{}, fmt.Errorf("expected 3 dimensions, got %d: %w", len(dims), ErrUnsupported)
	}
	return Point3d{dims[2], dims[1], dims[0]}, nil
}
