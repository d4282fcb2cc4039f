// Package visualization renders 2D sections of volumes and masks so
// segmentation results can be inspected slice by slice.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/tiff"

	"boneseg/pkg/volume"
)

// Window maps scalar CT intensities to display grey levels. Intensities
// at or below Level-Width/2 render black and intensities at or above
// Level+Width/2 render white, with a linear ramp in between.
type Window struct {
	// Level is the intensity at the center of the display range.
	Level float64

	// Width is the intensity span rendered between black and white.
	Width float64
}

// BoneWindow is the standard bone display window.
var BoneWindow = Window{Level: 300, Width: 1500}

// gray converts one intensity to a 16 bit grey level.
func (w Window) gray(value float64) uint16 {
	t := (value - (w.Level - w.Width/2)) / w.Width
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 65535
	}
	return uint16(t*65535 + 0.5)
}

// NamedMask pairs a segmentation mask with the color it renders in
// overlays. The name identifies the structure in logs and legends.
type NamedMask struct {
	Name  string
	Mask  *volume.Mask
	Color color.RGBA
}

// Viewer renders 2D sections of a volume for visual inspection.
type Viewer struct {
	vol    *volume.Volume
	window Window
}

// NewViewer creates a viewer for the given volume. A window with a
// non-positive width falls back to the bone window.
func NewViewer(vol *volume.Volume, window Window) *Viewer {
	if window.Width <= 0 {
		window = BoneWindow
	}
	return &Viewer{vol: vol, window: window}
}

// SliceGray16 renders the windowed slice at pos along the given axis
// as a 16 bit greyscale image. Image rows follow the lower remaining
// volume axis.
func (v *Viewer) SliceGray16(axis, pos int) (*image.Gray16, error) {
	if err := v.checkSlice(axis, pos); err != nil {
		return nil, err
	}

	rowAxis, colAxis := planeAxes(axis)
	rows, cols := v.vol.Dims[rowAxis], v.vol.Dims[colAxis]
	img := image.NewGray16(image.Rect(0, 0, cols, rows))

	var coords [3]int
	coords[axis] = pos
	for r := 0; r < rows; r++ {
		coords[rowAxis] = r
		for c := 0; c < cols; c++ {
			coords[colAxis] = c
			grey := v.window.gray(v.vol.At(coords[0], coords[1], coords[2]))
			img.SetGray16(c, r, color.Gray16{Y: grey})
		}
	}
	return img, nil
}

// SliceOverlay renders the windowed slice with each mask blended over
// it in its own color. Masks are painted in argument order, so later
// masks win where structures overlap.
func (v *Viewer) SliceOverlay(axis, pos int, masks ...NamedMask) (*image.RGBA, error) {
	if err := v.checkSlice(axis, pos); err != nil {
		return nil, err
	}
	for _, m := range masks {
		if m.Mask.Dims != v.vol.Dims {
			return nil, fmt.Errorf("mask %q has dimensions %v, want %v", m.Name, m.Mask.Dims, v.vol.Dims)
		}
	}

	rowAxis, colAxis := planeAxes(axis)
	rows, cols := v.vol.Dims[rowAxis], v.vol.Dims[colAxis]
	img := image.NewRGBA(image.Rect(0, 0, cols, rows))

	var coords [3]int
	coords[axis] = pos
	for r := 0; r < rows; r++ {
		coords[rowAxis] = r
		for c := 0; c < cols; c++ {
			coords[colAxis] = c
			grey := uint8(v.window.gray(v.vol.At(coords[0], coords[1], coords[2])) >> 8)
			px := color.RGBA{R: grey, G: grey, B: grey, A: 255}
			for _, m := range masks {
				if m.Mask.At(coords[0], coords[1], coords[2]) {
					px = blend(grey, m.Color)
				}
			}
			img.SetRGBA(c, r, px)
		}
	}
	return img, nil
}

// SaveSliceSequence renders every step-th slice along the axis into
// dir as 16 bit TIFF files. Steps below 1 fall back to 1.
func (v *Viewer) SaveSliceSequence(dir string, axis, step int) error {
	if axis < 0 || axis > 2 {
		return fmt.Errorf("invalid axis %d, want 0, 1 or 2", axis)
	}
	if step < 1 {
		step = 1
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create slice directory: %w", err)
	}

	for pos := 0; pos < v.vol.Dims[axis]; pos += step {
		img, err := v.SliceGray16(axis, pos)
		if err != nil {
			return err
		}
		name := filepath.Join(dir, fmt.Sprintf("slice_%d_%03d.tiff", axis, pos))
		if err := SaveTIFF(name, img); err != nil {
			return err
		}
	}
	return nil
}

func (v *Viewer) checkSlice(axis, pos int) error {
	if axis < 0 || axis > 2 {
		return fmt.Errorf("invalid axis %d, want 0, 1 or 2", axis)
	}
	if pos < 0 || pos >= v.vol.Dims[axis] {
		return fmt.Errorf("position %d is outside axis %d of extent %d", pos, axis, v.vol.Dims[axis])
	}
	return nil
}

// planeAxes returns the volume axes that span a slice plane, image
// rows first.
func planeAxes(axis int) (rowAxis, colAxis int) {
	switch axis {
	case 0:
		return 1, 2
	case 1:
		return 0, 2
	default:
		return 0, 1
	}
}

// blend mixes the structure color with the underlying grey at equal
// weight so the anatomy stays visible through the overlay.
func blend(grey uint8, c color.RGBA) color.RGBA {
	return color.RGBA{
		R: uint8((uint16(grey) + uint16(c.R)) / 2),
		G: uint8((uint16(grey) + uint16(c.G)) / 2),
		B: uint8((uint16(grey) + uint16(c.B)) / 2),
		A: 255,
	}
}

// SaveTIFF writes an image as a deflate compressed TIFF file.
func SaveTIFF(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	defer f.Close()

	if err := tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return fmt.Errorf("failed to encode TIFF: %w", err)
	}
	return nil
}

// SavePNG writes an image as a PNG file.
func SavePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("failed to encode PNG: %w", err)
	}
	return nil
}
