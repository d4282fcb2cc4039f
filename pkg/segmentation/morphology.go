package segmentation

import (
	"fmt"

	"boneseg/pkg/volume"
)

// StructElem selects the erosion structuring element.
type StructElem int

const (
	// ElemCross is the minimal 3D kernel: the six face neighbors.
	ElemCross StructElem = iota

	// ElemBox is the full 3x3x3 neighborhood.
	ElemBox
)

// neighbors6 holds the face-neighbor offsets.
var neighbors6 = [][3]int{
	{-1, 0, 0}, {1, 0, 0},
	{0, -1, 0}, {0, 1, 0},
	{0, 0, -1}, {0, 0, 1},
}

func (e StructElem) offsets() [][3]int {
	if e == ElemBox {
		return neighbors26
	}
	return neighbors6
}

// String returns the configuration name of the element.
func (e StructElem) String() string {
	switch e {
	case ElemCross:
		return "cross"
	case ElemBox:
		return "box"
	default:
		return fmt.Sprintf("StructElem(%d)", int(e))
	}
}

// ParseStructElem maps a configuration name to its element.
func ParseStructElem(name string) (StructElem, error) {
	switch name {
	case "cross":
		return ElemCross, nil
	case "box":
		return ElemBox, nil
	default:
		return 0, fmt.Errorf("unknown structuring element %q", name)
	}
}

// ErodeMask shrinks the mask by one step of the structuring element.
// A voxel survives only if it is set and every neighbor covered by the
// element is set; positions outside the volume count as background, so
// structures touching the border erode there as well.
func ErodeMask(m *volume.Mask, elem StructElem) *volume.Mask {
	out := volume.NewMask(m.Dims)
	d0, d1, d2 := m.Dims[0], m.Dims[1], m.Dims[2]
	offsets := elem.offsets()

	for i := 0; i < d0; i++ {
		for j := 0; j < d1; j++ {
		voxels:
			for k := 0; k < d2; k++ {
				if !m.At(i, j, k) {
					continue
				}
				for _, off := range offsets {
					ni, nj, nk := i+off[0], j+off[1], k+off[2]
					if ni < 0 || ni >= d0 || nj < 0 || nj >= d1 || nk < 0 || nk >= d2 {
						continue voxels
					}
					if !m.At(ni, nj, nk) {
						continue voxels
					}
				}
				out.Set(i, j, k, true)
			}
		}
	}
	return out
}

// RemoveSmallComponents clears every connected component (26-neighbor
// connectivity) with fewer than minSize voxels.
func RemoveSmallComponents(m *volume.Mask, minSize int) *volume.Mask {
	labels, comps := LabelComponents(m)
	keep := comps[:0]
	for _, c := range comps {
		if c.Voxels >= minSize {
			keep = append(keep, c)
		}
	}
	return SelectMask(m, labels, keep)
}

// FillSmallHoles fills enclosed background pockets with fewer than
// maxSize voxels. A pocket is a 6-connected background region with no
// path to the volume border; border-connected background is never
// filled.
func FillSmallHoles(m *volume.Mask, maxSize int) *volume.Mask {
	out := m.Clone()
	if maxSize <= 0 {
		return out
	}
	d0, d1, d2 := m.Dims[0], m.Dims[1], m.Dims[2]
	plane := d1 * d2

	// Flood the border-connected background first.
	outside := make([]bool, len(m.Data))
	stack := make([]int, 0, 2*plane)
	for idx := range m.Data {
		if m.Data[idx] || outside[idx] {
			continue
		}
		i := idx / plane
		rem := idx % plane
		j := rem / d2
		k := rem % d2
		if i != 0 && i != d0-1 && j != 0 && j != d1-1 && k != 0 && k != d2-1 {
			continue
		}
		outside[idx] = true
		stack = append(stack, idx)
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			ci := cur / plane
			crem := cur % plane
			cj := crem / d2
			ck := crem % d2
			for _, off := range neighbors6 {
				ni, nj, nk := ci+off[0], cj+off[1], ck+off[2]
				if ni < 0 || ni >= d0 || nj < 0 || nj >= d1 || nk < 0 || nk >= d2 {
					continue
				}
				nIdx := (ni*d1+nj)*d2 + nk
				if !m.Data[nIdx] && !outside[nIdx] {
					outside[nIdx] = true
					stack = append(stack, nIdx)
				}
			}
		}
	}

	// Everything left over is an enclosed pocket; fill the small ones.
	visited := make([]bool, len(m.Data))
	pocket := make([]int, 0, maxSize)
	for idx := range m.Data {
		if m.Data[idx] || outside[idx] || visited[idx] {
			continue
		}
		pocket = pocket[:0]
		visited[idx] = true
		stack = append(stack[:0], idx)
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			pocket = append(pocket, cur)
			ci := cur / plane
			crem := cur % plane
			cj := crem / d2
			ck := crem % d2
			for _, off := range neighbors6 {
				ni, nj, nk := ci+off[0], cj+off[1], ck+off[2]
				if ni < 0 || ni >= d0 || nj < 0 || nj >= d1 || nk < 0 || nk >= d2 {
					continue
				}
				nIdx := (ni*d1+nj)*d2 + nk
				if !m.Data[nIdx] && !outside[nIdx] && !visited[nIdx] {
					visited[nIdx] = true
					stack = append(stack, nIdx)
				}
			}
		}
		if len(pocket) < maxSize {
			for _, p := range pocket {
				out.Data[p] = true
			}
		}
	}
	return out
}

// Cleaner composes the morphological noise suppression applied after
// each density filtering pass: erosion of the non-zero extent followed
// by threshold re-binarization, small-object removal and optional hole
// filling.
type Cleaner struct {
	// Elem is the erosion structuring element.
	Elem StructElem

	// Method picks the automatic threshold policy for re-binarization.
	Method ThresholdMethod

	// MinSize drops connected components smaller than this voxel
	// count. Zero disables the size filter.
	MinSize int

	// FillHoles enables filling of enclosed background pockets
	// smaller than HoleSize voxels.
	FillHoles bool
	HoleSize  int
}

// Clean erodes the volume's non-zero extent by the structuring
// element, zeroes everything outside the eroded mask, and then runs
// Suppress on the result. Returns the cleaned volume and its keep
// mask; the input volume is not modified.
func (c Cleaner) Clean(v *volume.Volume) (*volume.Volume, *volume.Mask) {
	eroded := ErodeMask(v.NonzeroMask(), c.Elem)
	return c.Suppress(v.ApplyMask(eroded))
}

// Suppress recomputes a binarization threshold over the volume,
// keeps voxels strictly above it, removes small components, optionally
// fills small enclosed holes, and zeroes the volume outside the final
// mask. Unlike erosion this stage is idempotent: suppressing an
// already-suppressed volume changes nothing.
func (c Cleaner) Suppress(v *volume.Volume) (*volume.Volume, *volume.Mask) {
	threshold := AutoThreshold(v, c.Method)
	keep := MaskAbove(v, threshold)
	if c.MinSize > 0 {
		keep = RemoveSmallComponents(keep, c.MinSize)
	}
	if c.FillHoles && c.HoleSize > 0 {
		keep = FillSmallHoles(keep, c.HoleSize)
	}
	return v.ApplyMask(keep), keep
}
