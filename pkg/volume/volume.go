// Package volume defines the 3D scalar volume, boolean mask and label
// map value types shared by the segmentation pipeline and its I/O
// packages. Volumes are stored as a flat slice in row-major order with
// explicit dimensions, so the same backing layout moves unchanged
// between the DICOM loader, the pipeline and the NRRD writer.
package volume

// Volume is a 3D array of scalar intensity values (Hounsfield-like
// units after rescaling). Axes are abstract: Dims[0] is the
// through-plane/depth axis for volumes stacked by the DICOM loader,
// but the pipeline never hard-codes a physical meaning for an axis
// index.
type Volume struct {
	// Data holds the voxel values as a 1D array in row-major order,
	// indexed by (i*Dims[1]+j)*Dims[2]+k.
	Data []float64

	// Dims are the voxel counts per axis.
	Dims [3]int

	// VoxelSize is the physical spacing per axis in mm.
	VoxelSize [3]float64
}

// Mask is a boolean array with the same shape as its source Volume.
// True marks voxels belonging to a structure of interest.
type Mask struct {
	Data []bool
	Dims [3]int
}

// LabelMap assigns a positive integer label to each voxel of a
// connected component; background voxels hold label 0.
type LabelMap struct {
	Data []int32
	Dims [3]int
}

// NewVolume allocates a zero-filled volume with unit voxel spacing.
func NewVolume(d0, d1, d2 int) *Volume {
	return &Volume{
		Data:      make([]float64, d0*d1*d2),
		Dims:      [3]int{d0, d1, d2},
		VoxelSize: [3]float64{1, 1, 1},
	}
}

// NewMask allocates an all-false mask of the given shape.
func NewMask(dims [3]int) *Mask {
	return &Mask{
		Data: make([]bool, dims[0]*dims[1]*dims[2]),
		Dims: dims,
	}
}

// NewLabelMap allocates an all-background label map of the given shape.
func NewLabelMap(dims [3]int) *LabelMap {
	return &LabelMap{
		Data: make([]int32, dims[0]*dims[1]*dims[2]),
		Dims: dims,
	}
}

// Len returns the total number of voxels.
func (v *Volume) Len() int { return len(v.Data) }

// Idx converts (i, j, k) axis coordinates to a flat Data index.
func (v *Volume) Idx(i, j, k int) int {
	return (i*v.Dims[1]+j)*v.Dims[2] + k
}

// At returns the voxel value at (i, j, k).
func (v *Volume) At(i, j, k int) float64 { return v.Data[v.Idx(i, j, k)] }

// Set stores a voxel value at (i, j, k).
func (v *Volume) Set(i, j, k int, value float64) { v.Data[v.Idx(i, j, k)] = value }

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	out := &Volume{
		Data:      make([]float64, len(v.Data)),
		Dims:      v.Dims,
		VoxelSize: v.VoxelSize,
	}
	copy(out.Data, v.Data)
	return out
}

// ApplyMask returns a copy of the volume with every voxel outside the
// mask zeroed. The receiver is not modified.
func (v *Volume) ApplyMask(m *Mask) *Volume {
	if v.Dims != m.Dims {
		panic("volume: ApplyMask shape mismatch")
	}
	out := v.Clone()
	for i, keep := range m.Data {
		if !keep {
			out.Data[i] = 0
		}
	}
	return out
}

// NonzeroMask returns a mask that is true wherever the volume holds a
// non-zero value.
func (v *Volume) NonzeroMask() *Mask {
	out := NewMask(v.Dims)
	for i, val := range v.Data {
		if val != 0 {
			out.Data[i] = true
		}
	}
	return out
}

// MinMax returns the smallest and largest voxel values. Both are 0 for
// an empty volume.
func (v *Volume) MinMax() (float64, float64) {
	if len(v.Data) == 0 {
		return 0, 0
	}
	min, max := v.Data[0], v.Data[0]
	for _, val := range v.Data[1:] {
		if val < min {
			min = val
		}
		if val > max {
			max = val
		}
	}
	return min, max
}

// Transpose returns a new volume with axes reordered so that output
// axis n is input axis order[n]. Voxel spacing follows the axes.
// Panics if order is not a permutation of 0, 1, 2.
func (v *Volume) Transpose(order [3]int) *Volume {
	var seen [3]bool
	for _, a := range order {
		if a < 0 || a > 2 || seen[a] {
			panic("volume: Transpose order must be a permutation of {0,1,2}")
		}
		seen[a] = true
	}
	dims := [3]int{v.Dims[order[0]], v.Dims[order[1]], v.Dims[order[2]]}
	out := &Volume{
		Data:      make([]float64, len(v.Data)),
		Dims:      dims,
		VoxelSize: [3]float64{v.VoxelSize[order[0]], v.VoxelSize[order[1]], v.VoxelSize[order[2]]},
	}
	var src [3]int
	for i := 0; i < dims[0]; i++ {
		for j := 0; j < dims[1]; j++ {
			for k := 0; k < dims[2]; k++ {
				pos := [3]int{i, j, k}
				src[order[0]], src[order[1]], src[order[2]] = pos[0], pos[1], pos[2]
				out.Data[out.Idx(i, j, k)] = v.At(src[0], src[1], src[2])
			}
		}
	}
	return out
}

// Flip returns a new volume with the given axis reversed. Panics on an
// axis outside 0..2.
func (v *Volume) Flip(axis int) *Volume {
	if axis < 0 || axis > 2 {
		panic("volume: Flip axis out of range")
	}
	out := v.Clone()
	for i := 0; i < v.Dims[0]; i++ {
		for j := 0; j < v.Dims[1]; j++ {
			for k := 0; k < v.Dims[2]; k++ {
				pos := [3]int{i, j, k}
				pos[axis] = v.Dims[axis] - 1 - pos[axis]
				out.Data[out.Idx(pos[0], pos[1], pos[2])] = v.At(i, j, k)
			}
		}
	}
	return out
}

// Idx converts (i, j, k) axis coordinates to a flat Data index.
func (m *Mask) Idx(i, j, k int) int {
	return (i*m.Dims[1]+j)*m.Dims[2] + k
}

// At returns whether the mask is set at (i, j, k).
func (m *Mask) At(i, j, k int) bool { return m.Data[m.Idx(i, j, k)] }

// Set stores a mask value at (i, j, k).
func (m *Mask) Set(i, j, k int, value bool) { m.Data[m.Idx(i, j, k)] = value }

// Count returns the number of true voxels.
func (m *Mask) Count() int {
	n := 0
	for _, set := range m.Data {
		if set {
			n++
		}
	}
	return n
}

// Empty reports whether the mask has no true voxels.
func (m *Mask) Empty() bool { return m.Count() == 0 }

// Clone returns a deep copy of the mask.
func (m *Mask) Clone() *Mask {
	out := &Mask{Data: make([]bool, len(m.Data)), Dims: m.Dims}
	copy(out.Data, m.Data)
	return out
}

// And returns a new mask set where both masks are set.
func (m *Mask) And(other *Mask) *Mask {
	if m.Dims != other.Dims {
		panic("volume: And shape mismatch")
	}
	out := NewMask(m.Dims)
	for i := range m.Data {
		out.Data[i] = m.Data[i] && other.Data[i]
	}
	return out
}

// AndNot returns a new mask set where the receiver is set and other is
// not.
func (m *Mask) AndNot(other *Mask) *Mask {
	if m.Dims != other.Dims {
		panic("volume: AndNot shape mismatch")
	}
	out := NewMask(m.Dims)
	for i := range m.Data {
		out.Data[i] = m.Data[i] && !other.Data[i]
	}
	return out
}

// Or returns a new mask set where either mask is set.
func (m *Mask) Or(other *Mask) *Mask {
	if m.Dims != other.Dims {
		panic("volume: Or shape mismatch")
	}
	out := NewMask(m.Dims)
	for i := range m.Data {
		out.Data[i] = m.Data[i] || other.Data[i]
	}
	return out
}

// Idx converts (i, j, k) axis coordinates to a flat Data index.
func (l *LabelMap) Idx(i, j, k int) int {
	return (i*l.Dims[1]+j)*l.Dims[2] + k
}

// At returns the label at (i, j, k).
func (l *LabelMap) At(i, j, k int) int32 { return l.Data[l.Idx(i, j, k)] }
