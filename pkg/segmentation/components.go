package segmentation

import (
	"sort"

	"boneseg/pkg/volume"
)

// Component is one connected component of a mask: its positive label
// and its voxel count.
type Component struct {
	Label  int32
	Voxels int
}

// neighbors26 holds the offsets of every face, edge and corner
// neighbor of a voxel.
var neighbors26 = buildNeighbors26()

func buildNeighbors26() [][3]int {
	offsets := make([][3]int, 0, 26)
	for di := -1; di <= 1; di++ {
		for dj := -1; dj <= 1; dj++ {
			for dk := -1; dk <= 1; dk++ {
				if di == 0 && dj == 0 && dk == 0 {
					continue
				}
				offsets = append(offsets, [3]int{di, dj, dk})
			}
		}
	}
	return offsets
}

// LabelComponents labels every connected component of the mask using
// full 26-neighbor connectivity. Labels are positive and assigned in
// the order a row-major scan first reaches each component; background
// voxels keep label 0. The returned components are in label order.
func LabelComponents(m *volume.Mask) (*volume.LabelMap, []Component) {
	labels := volume.NewLabelMap(m.Dims)
	d0, d1, d2 := m.Dims[0], m.Dims[1], m.Dims[2]
	plane := d1 * d2

	var comps []Component
	next := int32(1)
	stack := make([]int, 0, 1024)

	for idx := range m.Data {
		if !m.Data[idx] || labels.Data[idx] != 0 {
			continue
		}

		labels.Data[idx] = next
		stack = append(stack[:0], idx)
		count := 0
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			count++

			i := cur / plane
			rem := cur % plane
			j := rem / d2
			k := rem % d2
			for _, off := range neighbors26 {
				ni, nj, nk := i+off[0], j+off[1], k+off[2]
				if ni < 0 || ni >= d0 || nj < 0 || nj >= d1 || nk < 0 || nk >= d2 {
					continue
				}
				nIdx := (ni*d1+nj)*d2 + nk
				if m.Data[nIdx] && labels.Data[nIdx] == 0 {
					labels.Data[nIdx] = next
					stack = append(stack, nIdx)
				}
			}
		}

		comps = append(comps, Component{Label: next, Voxels: count})
		next++
	}
	return labels, comps
}

// RankComponents labels the mask and returns its components sorted by
// voxel count, largest first, never including background. Components
// of equal size order by ascending label, the order their first voxels
// appear in a row-major scan. keepN > 0 truncates the ranking to the
// top N; keepN == 0 keeps all components.
func RankComponents(m *volume.Mask, keepN int) (*volume.LabelMap, []Component) {
	labels, comps := LabelComponents(m)
	sort.Slice(comps, func(a, b int) bool {
		if comps[a].Voxels != comps[b].Voxels {
			return comps[a].Voxels > comps[b].Voxels
		}
		return comps[a].Label < comps[b].Label
	})
	if keepN > 0 && len(comps) > keepN {
		comps = comps[:keepN]
	}
	return labels, comps
}

// SelectVolume returns a copy of v with every voxel whose label is not
// in the kept set zeroed. The input volume is not modified.
func SelectVolume(v *volume.Volume, labels *volume.LabelMap, keep []Component) *volume.Volume {
	if v.Dims != labels.Dims {
		panic("segmentation: SelectVolume shape mismatch")
	}
	set := keepSet(keep)
	out := v.Clone()
	for i := range out.Data {
		if _, ok := set[labels.Data[i]]; !ok {
			out.Data[i] = 0
		}
	}
	return out
}

// SelectMask returns a copy of m with every voxel whose label is not
// in the kept set cleared. The input mask is not modified.
func SelectMask(m *volume.Mask, labels *volume.LabelMap, keep []Component) *volume.Mask {
	if m.Dims != labels.Dims {
		panic("segmentation: SelectMask shape mismatch")
	}
	set := keepSet(keep)
	out := m.Clone()
	for i := range out.Data {
		if out.Data[i] {
			if _, ok := set[labels.Data[i]]; !ok {
				out.Data[i] = false
			}
		}
	}
	return out
}

func keepSet(keep []Component) map[int32]struct{} {
	set := make(map[int32]struct{}, len(keep))
	for _, c := range keep {
		set[c.Label] = struct{}{}
	}
	return set
}
