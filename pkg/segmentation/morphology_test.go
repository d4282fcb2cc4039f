package segmentation

import (
	"testing"

	"boneseg/pkg/volume"
)

// cubeMask sets the inclusive block [lo, hi] per axis.
func cubeMask(m *volume.Mask, lo, hi [3]int) {
	for i := lo[0]; i <= hi[0]; i++ {
		for j := lo[1]; j <= hi[1]; j++ {
			for k := lo[2]; k <= hi[2]; k++ {
				m.Set(i, j, k, true)
			}
		}
	}
}

// TestErodeCubeToCenter verifies that a 3x3x3 cube erodes to its
// single center voxel under the face-neighbor element.
func TestErodeCubeToCenter(t *testing.T) {
	m := volume.NewMask([3]int{5, 5, 5})
	cubeMask(m, [3]int{1, 1, 1}, [3]int{3, 3, 3})

	got := ErodeMask(m, ElemCross)
	if got.Count() != 1 {
		t.Fatalf("Expected 1 surviving voxel, got %d", got.Count())
	}
	if !got.At(2, 2, 2) {
		t.Error("Expected the cube center to survive erosion")
	}
}

// TestErodeAtVolumeBorder verifies that voxels on the volume border
// erode away because out-of-bounds counts as background.
func TestErodeAtVolumeBorder(t *testing.T) {
	m := volume.NewMask([3]int{3, 3, 3})
	cubeMask(m, [3]int{0, 0, 0}, [3]int{2, 2, 2})

	got := ErodeMask(m, ElemCross)
	if got.Count() != 1 || !got.At(1, 1, 1) {
		t.Errorf("Expected only the interior voxel to survive, got %d voxels", got.Count())
	}
}

// TestErodeStructElems verifies the difference between the
// face-neighbor and the full-neighborhood elements on a plus shape,
// which has all face neighbors of its center set but no corners.
func TestErodeStructElems(t *testing.T) {
	m := maskOf([3]int{3, 3, 3},
		[3]int{1, 1, 1},
		[3]int{0, 1, 1}, [3]int{2, 1, 1},
		[3]int{1, 0, 1}, [3]int{1, 2, 1},
		[3]int{1, 1, 0}, [3]int{1, 1, 2},
	)

	if got := ErodeMask(m, ElemCross).Count(); got != 1 {
		t.Errorf("Expected the cross element to keep the center, got %d voxels", got)
	}
	if got := ErodeMask(m, ElemBox).Count(); got != 0 {
		t.Errorf("Expected the box element to erode everything, got %d voxels", got)
	}
}

// TestRemoveSmallComponents verifies the minimum size cut, including
// the boundary case of a component exactly at the minimum.
func TestRemoveSmallComponents(t *testing.T) {
	m := volume.NewMask([3]int{1, 8, 12})
	lineMask(m, 0, 0, 0, 10)
	lineMask(m, 0, 4, 0, 3)

	got := RemoveSmallComponents(m, 4)
	if got.Count() != 10 {
		t.Errorf("Expected only the 10-voxel component, got %d voxels", got.Count())
	}

	got = RemoveSmallComponents(m, 3)
	if got.Count() != 13 {
		t.Errorf("Expected a component at the minimum size to survive, got %d voxels", got.Count())
	}
}

// TestFillSmallHoles verifies that enclosed pockets below the size cut
// are filled while border-connected background never is.
func TestFillSmallHoles(t *testing.T) {
	t.Run("enclosed pocket", func(t *testing.T) {
		m := volume.NewMask([3]int{5, 5, 5})
		cubeMask(m, [3]int{0, 0, 0}, [3]int{4, 4, 4})
		m.Set(2, 2, 2, false)

		got := FillSmallHoles(m, 8)
		if !got.At(2, 2, 2) {
			t.Error("Expected the enclosed pocket to be filled")
		}
		if got.Count() != 125 {
			t.Errorf("Expected a solid block of 125 voxels, got %d", got.Count())
		}
	})

	t.Run("pocket at size cut", func(t *testing.T) {
		m := volume.NewMask([3]int{5, 5, 5})
		cubeMask(m, [3]int{0, 0, 0}, [3]int{4, 4, 4})
		m.Set(2, 2, 2, false)

		// The cut is strict, so a 1-voxel pocket stays with maxSize 1.
		got := FillSmallHoles(m, 1)
		if got.At(2, 2, 2) {
			t.Error("Expected a pocket at the size cut to stay open")
		}
	})

	t.Run("border-connected tunnel", func(t *testing.T) {
		m := volume.NewMask([3]int{5, 5, 5})
		cubeMask(m, [3]int{0, 0, 0}, [3]int{4, 4, 4})
		m.Set(2, 2, 2, false)
		m.Set(2, 2, 3, false)
		m.Set(2, 2, 4, false)

		got := FillSmallHoles(m, 8)
		if got.At(2, 2, 2) || got.At(2, 2, 3) || got.At(2, 2, 4) {
			t.Error("Expected background reaching the border to stay open")
		}
	})
}

// TestCleanerClean verifies the erode-then-suppress composition on a
// small solid structure.
func TestCleanerClean(t *testing.T) {
	v := gridVolume([3]int{5, 5, 5}, func(i, j, k int) float64 { return 0 })
	for i := 1; i <= 3; i++ {
		for j := 1; j <= 3; j++ {
			for k := 1; k <= 3; k++ {
				v.Set(i, j, k, 800)
			}
		}
	}

	c := Cleaner{Elem: ElemCross, Method: ThresholdIsodata}
	cleaned, keep := c.Clean(v)

	if keep.Count() != 1 || !keep.At(2, 2, 2) {
		t.Fatalf("Expected only the structure center kept, got %d voxels", keep.Count())
	}
	if cleaned.At(2, 2, 2) != 800 {
		t.Errorf("Expected the kept voxel to retain its value, got %v", cleaned.At(2, 2, 2))
	}
	if v.At(1, 1, 1) != 800 {
		t.Error("Expected the input volume to stay unmodified")
	}
}

// TestCleanerSuppressIdempotence verifies that suppressing an already
// suppressed volume changes neither the volume nor the keep mask. The
// scene has a large block with a small interior pocket that gets
// filled and a small distant block that gets removed.
func TestCleanerSuppressIdempotence(t *testing.T) {
	v := gridVolume([3]int{12, 12, 12}, func(i, j, k int) float64 { return 0 })
	set := func(lo, hi [3]int, value float64) {
		for i := lo[0]; i <= hi[0]; i++ {
			for j := lo[1]; j <= hi[1]; j++ {
				for k := lo[2]; k <= hi[2]; k++ {
					v.Set(i, j, k, value)
				}
			}
		}
	}
	set([3]int{1, 1, 1}, [3]int{8, 8, 8}, 800)
	set([3]int{4, 4, 4}, [3]int{5, 5, 5}, 30)
	set([3]int{10, 10, 10}, [3]int{11, 11, 11}, 800)

	c := Cleaner{
		Elem:      ElemCross,
		Method:    ThresholdIsodata,
		MinSize:   50,
		FillHoles: true,
		HoleSize:  27,
	}

	once, keepOnce := c.Suppress(v)
	if keepOnce.Count() != 512 {
		t.Fatalf("Expected the filled 8x8x8 block kept, got %d voxels", keepOnce.Count())
	}
	if once.At(4, 4, 4) != 30 {
		t.Errorf("Expected filled pocket voxels to retain their value, got %v", once.At(4, 4, 4))
	}
	if once.At(10, 10, 10) != 0 {
		t.Error("Expected the small distant block removed")
	}

	twice, keepTwice := c.Suppress(once)
	for i := range keepOnce.Data {
		if keepTwice.Data[i] != keepOnce.Data[i] {
			t.Fatalf("Keep mask changed on the second pass at index %d", i)
		}
	}
	for i := range once.Data {
		if twice.Data[i] != once.Data[i] {
			t.Fatalf("Volume changed on the second pass at index %d", i)
		}
	}
}

// TestParseStructElem checks the configuration name round-trip.
func TestParseStructElem(t *testing.T) {
	for _, elem := range []StructElem{ElemCross, ElemBox} {
		parsed, err := ParseStructElem(elem.String())
		if err != nil {
			t.Fatalf("Failed to parse %q: %v", elem.String(), err)
		}
		if parsed != elem {
			t.Errorf("Expected %v, got %v", elem, parsed)
		}
	}

	if _, err := ParseStructElem("ball"); err == nil {
		t.Error("Expected an error for an unknown element name")
	}
}
