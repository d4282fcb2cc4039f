// Package segmentation implements the skeletal segmentation and femur
// laterality pipeline for volumetric CT scans: density-band filtering,
// morphological cleaning, connected-component ranking and selection,
// bounding-volume construction, pelvic projection, spine isolation and
// the left/right femur classification.
package segmentation

import "boneseg/pkg/volume"

// Band is an inclusive intensity range in density units. A nil bound
// leaves that side open.
type Band struct {
	From *float64 `yaml:"from,omitempty"`
	To   *float64 `yaml:"to,omitempty"`
}

// BandFrom returns a band bounded below at from and open above.
func BandFrom(from float64) Band {
	return Band{From: &from}
}

// BandBetween returns a band bounded inclusively on both sides.
func BandBetween(from, to float64) Band {
	return Band{From: &from, To: &to}
}

// Contains reports whether a value falls inside the band.
func (b Band) Contains(v float64) bool {
	if b.From != nil && v < *b.From {
		return false
	}
	if b.To != nil && v > *b.To {
		return false
	}
	return true
}

// DensityMask returns a mask that is true for every voxel whose value
// lies inside the band. With both bounds nil every voxel matches.
func DensityMask(v *volume.Volume, band Band) *volume.Mask {
	out := volume.NewMask(v.Dims)
	for i, val := range v.Data {
		out.Data[i] = band.Contains(val)
	}
	return out
}
