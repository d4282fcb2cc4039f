package segmentation

import (
	"errors"
	"testing"

	"boneseg/pkg/volume"
)

// TestMaskBoundsSingleVoxel verifies the tight box of a single voxel
// and its materialization without padding.
func TestMaskBoundsSingleVoxel(t *testing.T) {
	dims := [3]int{10, 10, 10}
	m := maskOf(dims, [3]int{5, 5, 5})

	got, box, err := BoundingMask(m, dims, 0)
	if err != nil {
		t.Fatalf("Failed to build bounding mask: %v", err)
	}
	if box.Min != [3]int{5, 5, 5} || box.Max != [3]int{5, 5, 5} {
		t.Errorf("Expected a degenerate box at (5,5,5), got %v", box)
	}
	if got.Count() != 1 || !got.At(5, 5, 5) {
		t.Errorf("Expected a mask true only at (5,5,5), got %d voxels", got.Count())
	}
}

// TestMaskBoundsExtent verifies the per-axis min/max scan.
func TestMaskBoundsExtent(t *testing.T) {
	m := maskOf([3]int{10, 10, 10}, [3]int{2, 3, 4}, [3]int{7, 1, 9})

	box, err := MaskBounds(m)
	if err != nil {
		t.Fatalf("Failed to compute bounds: %v", err)
	}
	if box.Min != [3]int{2, 1, 4} || box.Max != [3]int{7, 3, 9} {
		t.Errorf("Expected box (2,1,4)-(7,3,9), got %v", box)
	}
	if box.Extent(0) != 6 || box.Extent(1) != 3 || box.Extent(2) != 6 {
		t.Errorf("Unexpected extents: %d %d %d", box.Extent(0), box.Extent(1), box.Extent(2))
	}
}

// TestMaskBoundsEmpty verifies the explicit error on an all-false
// mask.
func TestMaskBoundsEmpty(t *testing.T) {
	m := volume.NewMask([3]int{4, 4, 4})

	if _, err := MaskBounds(m); !errors.Is(err, ErrEmptyMask) {
		t.Errorf("Expected ErrEmptyMask, got %v", err)
	}
	if _, _, err := BoundingMask(m, m.Dims, 2); !errors.Is(err, ErrEmptyMask) {
		t.Errorf("Expected ErrEmptyMask from BoundingMask, got %v", err)
	}
}

// TestPadClampsLowerBoundOnly verifies that padding clamps the lower
// bound at zero while the upper bound runs past the volume extent
// until materialization clips it.
func TestPadClampsLowerBoundOnly(t *testing.T) {
	dims := [3]int{10, 10, 10}
	m := maskOf(dims, [3]int{1, 2, 3}, [3]int{8, 8, 8})

	box, err := MaskBounds(m)
	if err != nil {
		t.Fatalf("Failed to compute bounds: %v", err)
	}

	padded := box.Pad(4)
	if padded.Min != [3]int{0, 0, 0} {
		t.Errorf("Expected lower bound clamped to 0, got %v", padded.Min)
	}
	if padded.Max != [3]int{12, 12, 12} {
		t.Errorf("Expected unclamped upper bound (12,12,12), got %v", padded.Max)
	}

	// Materialized against the real shape the box fills to the edge.
	filled := padded.Mask(dims)
	if !filled.At(9, 9, 9) {
		t.Error("Expected the fill to reach the last voxel")
	}
	if filled.Count() != 1000 {
		t.Errorf("Expected the whole 10x10x10 volume filled, got %d", filled.Count())
	}
}

// TestBoxMidpointAndUnion covers the centroid midpoint and the union
// of disjoint boxes.
func TestBoxMidpointAndUnion(t *testing.T) {
	a := Box{Min: [3]int{0, 0, 0}, Max: [3]int{5, 3, 1}}
	if got := a.Midpoint(); got != [3]float64{2.5, 1.5, 0.5} {
		t.Errorf("Expected midpoint (2.5,1.5,0.5), got %v", got)
	}

	b := Box{Min: [3]int{4, 4, 4}, Max: [3]int{6, 6, 6}}
	u := a.Union(b)
	if u.Min != [3]int{0, 0, 0} || u.Max != [3]int{6, 6, 6} {
		t.Errorf("Expected union (0,0,0)-(6,6,6), got %v", u)
	}
}
