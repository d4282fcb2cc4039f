package segmentation

import (
	"errors"
	"fmt"

	"boneseg/pkg/volume"
)

// ErrEmptyMask is returned when an operation that requires at least
// one set voxel receives an all-false mask.
var ErrEmptyMask = errors.New("segmentation: mask contains no set voxels")

// Box is an axis-aligned bounding box with inclusive voxel bounds.
type Box struct {
	Min [3]int
	Max [3]int
}

// Extent returns the number of voxels the box spans along an axis.
func (b Box) Extent(axis int) int { return b.Max[axis] - b.Min[axis] + 1 }

// Midpoint returns the box center per axis. This is the geometric
// midpoint of the bounds, not a voxel-weighted centroid.
func (b Box) Midpoint() [3]float64 {
	return [3]float64{
		float64(b.Min[0]+b.Max[0]) / 2,
		float64(b.Min[1]+b.Max[1]) / 2,
		float64(b.Min[2]+b.Max[2]) / 2,
	}
}

// Pad expands the box by p voxels on every side. The lower bound is
// clamped at 0; the upper bound is left unclamped and is only limited
// when the box is materialized against a target shape.
func (b Box) Pad(p int) Box {
	out := b
	for a := 0; a < 3; a++ {
		out.Min[a] -= p
		if out.Min[a] < 0 {
			out.Min[a] = 0
		}
		out.Max[a] += p
	}
	return out
}

// String renders the box as inclusive per-axis ranges.
func (b Box) String() string {
	return fmt.Sprintf("[%d %d]x[%d %d]x[%d %d]",
		b.Min[0], b.Max[0], b.Min[1], b.Max[1], b.Min[2], b.Max[2])
}

// Union returns the smallest box containing both boxes.
func (b Box) Union(other Box) Box {
	out := b
	for a := 0; a < 3; a++ {
		if other.Min[a] < out.Min[a] {
			out.Min[a] = other.Min[a]
		}
		if other.Max[a] > out.Max[a] {
			out.Max[a] = other.Max[a]
		}
	}
	return out
}

// Mask materializes the box as a rectangular mask of the target shape.
// The fill is clipped to the shape, so a padded box reaching past the
// volume extent fills up to the last voxel.
func (b Box) Mask(dims [3]int) *volume.Mask {
	out := volume.NewMask(dims)
	var lo, hi [3]int
	for a := 0; a < 3; a++ {
		lo[a] = b.Min[a]
		if lo[a] < 0 {
			lo[a] = 0
		}
		hi[a] = b.Max[a]
		if hi[a] > dims[a]-1 {
			hi[a] = dims[a] - 1
		}
	}
	for i := lo[0]; i <= hi[0]; i++ {
		for j := lo[1]; j <= hi[1]; j++ {
			for k := lo[2]; k <= hi[2]; k++ {
				out.Set(i, j, k, true)
			}
		}
	}
	return out
}

// MaskBounds returns the smallest box containing every set voxel.
// Returns ErrEmptyMask when the mask has none: there is nothing to
// bound and downstream structures would be arbitrary.
func MaskBounds(m *volume.Mask) (Box, error) {
	d0, d1, d2 := m.Dims[0], m.Dims[1], m.Dims[2]
	box := Box{
		Min: [3]int{d0, d1, d2},
		Max: [3]int{-1, -1, -1},
	}
	for i := 0; i < d0; i++ {
		for j := 0; j < d1; j++ {
			for k := 0; k < d2; k++ {
				if !m.At(i, j, k) {
					continue
				}
				pos := [3]int{i, j, k}
				for a := 0; a < 3; a++ {
					if pos[a] < box.Min[a] {
						box.Min[a] = pos[a]
					}
					if pos[a] > box.Max[a] {
						box.Max[a] = pos[a]
					}
				}
			}
		}
	}
	if box.Max[0] < 0 {
		return Box{}, ErrEmptyMask
	}
	return box, nil
}

// BoundingMask computes the padded bounding box of the mask and
// materializes it against the target shape.
func BoundingMask(m *volume.Mask, dims [3]int, padding int) (*volume.Mask, Box, error) {
	box, err := MaskBounds(m)
	if err != nil {
		return nil, Box{}, err
	}
	padded := box.Pad(padding)
	return padded.Mask(dims), padded, nil
}
