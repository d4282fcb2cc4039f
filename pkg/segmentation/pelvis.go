package segmentation

import "boneseg/pkg/volume"

// ProjectFootprint builds the pelvic exclusion zone: the mask is
// collapsed along the depth axis into a single 2D mask (averaging and
// thresholding at non-zero, i.e. any set voxel along the ray), enclosed
// background regions of the projection are filled, the result is
// dilated by a disk of the given radius, and the dilated footprint is
// replicated across the full depth extent. An empty input produces an
// empty footprint.
func ProjectFootprint(m *volume.Mask, depthAxis, radius int) *volume.Mask {
	if depthAxis < 0 || depthAxis > 2 {
		panic("segmentation: ProjectFootprint depth axis out of range")
	}
	var axA, axB int
	switch depthAxis {
	case 0:
		axA, axB = 1, 2
	case 1:
		axA, axB = 0, 2
	default:
		axA, axB = 0, 1
	}
	rows, cols := m.Dims[axA], m.Dims[axB]

	plane := make([]bool, rows*cols)
	for i := 0; i < m.Dims[0]; i++ {
		for j := 0; j < m.Dims[1]; j++ {
			for k := 0; k < m.Dims[2]; k++ {
				if m.At(i, j, k) {
					pos := [3]int{i, j, k}
					plane[pos[axA]*cols+pos[axB]] = true
				}
			}
		}
	}

	fillEnclosed2D(plane, rows, cols)
	plane = dilateDisk2D(plane, rows, cols, radius)

	out := volume.NewMask(m.Dims)
	for i := 0; i < m.Dims[0]; i++ {
		for j := 0; j < m.Dims[1]; j++ {
			for k := 0; k < m.Dims[2]; k++ {
				pos := [3]int{i, j, k}
				if plane[pos[axA]*cols+pos[axB]] {
					out.Set(i, j, k, true)
				}
			}
		}
	}
	return out
}

var neighbors4 = [][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}

// fillEnclosed2D sets every background pixel with no 4-connected path
// to the border. All enclosed regions are filled regardless of size.
func fillEnclosed2D(plane []bool, rows, cols int) {
	if rows == 0 || cols == 0 {
		return
	}
	outside := make([]bool, len(plane))
	stack := make([]int, 0, 2*(rows+cols))
	for idx := range plane {
		if plane[idx] || outside[idx] {
			continue
		}
		r, c := idx/cols, idx%cols
		if r != 0 && r != rows-1 && c != 0 && c != cols-1 {
			continue
		}
		outside[idx] = true
		stack = append(stack, idx)
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			cr, cc := cur/cols, cur%cols
			for _, off := range neighbors4 {
				nr, nc := cr+off[0], cc+off[1]
				if nr < 0 || nr >= rows || nc < 0 || nc >= cols {
					continue
				}
				nIdx := nr*cols + nc
				if !plane[nIdx] && !outside[nIdx] {
					outside[nIdx] = true
					stack = append(stack, nIdx)
				}
			}
		}
	}
	for idx := range plane {
		if !plane[idx] && !outside[idx] {
			plane[idx] = true
		}
	}
}

// dilateDisk2D grows the mask by stamping a disk of the given radius
// over every set pixel. Radius zero or below returns a copy.
func dilateDisk2D(plane []bool, rows, cols, radius int) []bool {
	out := make([]bool, len(plane))
	copy(out, plane)
	if radius <= 0 {
		return out
	}
	offsets := diskOffsets(radius)
	for idx, set := range plane {
		if !set {
			continue
		}
		r, c := idx/cols, idx%cols
		for _, off := range offsets {
			nr, nc := r+off[0], c+off[1]
			if nr < 0 || nr >= rows || nc < 0 || nc >= cols {
				continue
			}
			out[nr*cols+nc] = true
		}
	}
	return out
}

// diskOffsets returns every offset within Euclidean distance radius.
func diskOffsets(radius int) [][2]int {
	offsets := make([][2]int, 0, (2*radius+1)*(2*radius+1))
	for dr := -radius; dr <= radius; dr++ {
		for dc := -radius; dc <= radius; dc++ {
			if dr*dr+dc*dc <= radius*radius {
				offsets = append(offsets, [2]int{dr, dc})
			}
		}
	}
	return offsets
}
