package segmentation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"boneseg/pkg/volume"
)

// ThresholdMethod selects the automatic binarization policy used by
// the morphological cleaner. It is a plain enumerated constant chosen
// by configuration.
type ThresholdMethod int

const (
	// ThresholdIsodata is the iterative intermeans splitter: the
	// threshold converges to the midpoint between the mean of the
	// values below it and the mean of the values above it.
	ThresholdIsodata ThresholdMethod = iota

	// ThresholdOtsu maximizes the between-class variance of the
	// foreground/background split over the intensity histogram.
	ThresholdOtsu
)

const histogramBins = 256

// String returns the configuration name of the method.
func (m ThresholdMethod) String() string {
	switch m {
	case ThresholdIsodata:
		return "isodata"
	case ThresholdOtsu:
		return "otsu"
	default:
		return fmt.Sprintf("ThresholdMethod(%d)", int(m))
	}
}

// ParseThresholdMethod maps a configuration name to its method.
func ParseThresholdMethod(name string) (ThresholdMethod, error) {
	switch name {
	case "isodata":
		return ThresholdIsodata, nil
	case "otsu":
		return ThresholdOtsu, nil
	default:
		return 0, fmt.Errorf("unknown threshold method %q", name)
	}
}

// AutoThreshold computes a binarization threshold over all voxel
// values with the given method. A degenerate intensity distribution
// (max <= min) returns the maximum value, which suppresses every voxel
// under a strictly-above comparison; this is a silent degradation
// rather than an error.
func AutoThreshold(v *volume.Volume, method ThresholdMethod) float64 {
	if v.Len() == 0 {
		return 0
	}
	min, max := v.MinMax()
	if max <= min {
		return max
	}

	hist, width := histogram(v, min, max)

	var bin float64
	switch method {
	case ThresholdOtsu:
		bin = otsuBin(hist)
	default:
		seed := (stat.Mean(v.Data, nil) - min) / width
		bin = isodataBin(hist, seed)
	}
	return min + (bin+0.5)*width
}

// MaskAbove returns a mask that is true where the voxel value is
// strictly greater than the threshold.
func MaskAbove(v *volume.Volume, threshold float64) *volume.Mask {
	out := volume.NewMask(v.Dims)
	for i, val := range v.Data {
		out.Data[i] = val > threshold
	}
	return out
}

// histogram bins the voxel values into a fixed number of buckets over
// [min, max]. Binning is done manually to keep full control over edge
// handling for the top bucket.
func histogram(v *volume.Volume, min, max float64) ([]int, float64) {
	hist := make([]int, histogramBins)
	width := (max - min) / histogramBins
	for _, val := range v.Data {
		bin := int((val - min) / width)
		if bin < 0 {
			bin = 0
		}
		if bin >= histogramBins {
			bin = histogramBins - 1
		}
		hist[bin]++
	}
	return hist, width
}

// isodataBin runs the intermeans iteration in histogram bin space,
// starting from the given seed bin, and returns the converged
// threshold bin.
func isodataBin(hist []int, seed float64) float64 {
	t := seed
	for iter := 0; iter < 64; iter++ {
		var loSum, hiSum float64
		var loN, hiN int
		for b, c := range hist {
			if c == 0 {
				continue
			}
			if float64(b) <= t {
				loSum += float64(b) * float64(c)
				loN += c
			} else {
				hiSum += float64(b) * float64(c)
				hiN += c
			}
		}
		if loN == 0 || hiN == 0 {
			break
		}
		next := (loSum/float64(loN) + hiSum/float64(hiN)) / 2
		if math.Abs(next-t) < 0.5 {
			return next
		}
		t = next
	}
	return t
}

// otsuBin returns the histogram bin that maximizes the between-class
// variance of the split below/above it.
func otsuBin(hist []int) float64 {
	total := 0
	var sum float64
	for b, c := range hist {
		total += c
		sum += float64(b) * float64(c)
	}
	if total == 0 {
		return 0
	}

	var sumB float64
	wB := 0
	bestBin := 0
	maxVariance := -1.0
	for b, c := range hist {
		wB += c
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(b) * float64(c)
		meanB := sumB / float64(wB)
		meanF := (sum - sumB) / float64(wF)
		variance := float64(wB) * float64(wF) * (meanB - meanF) * (meanB - meanF)
		if variance > maxVariance {
			maxVariance = variance
			bestBin = b
		}
	}
	return float64(bestBin)
}
