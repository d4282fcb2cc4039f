// Package dicomio reads DICOM CT series from disk and stacks them into
// dense volumes. Slice files are decoded concurrently, ordered by their
// header geometry and rescaled to Hounsfield units before stacking.
package dicomio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"boneseg/pkg/volume"
)

// LoadOptions controls how a DICOM series is read.
type LoadOptions struct {
	// NumWorkers caps how many slice files are decoded concurrently.
	// Values below 1 fall back to the number of available CPU cores.
	NumWorkers int

	// Logger receives a summary entry once the series is stacked. The
	// zero value discards it.
	Logger zerolog.Logger
}

// SeriesInfo describes the geometry and provenance of a loaded series.
type SeriesInfo struct {
	// Files is the number of slice files stacked into the volume.
	Files int

	// Modality is the DICOM modality of the series, typically "CT".
	Modality string

	// VoxelSize is the physical voxel spacing in mm with the
	// through-plane axis first, matching the stacked volume.
	VoxelSize [3]float64
}

// ctSlice is one decoded DICOM file: the header keys that drive slice
// ordering and geometry plus the rescaled pixel values in row-major
// order.
type ctSlice struct {
	location    float64
	hasLocation bool
	position    float64
	hasPosition bool
	instance    int

	rows, cols             int
	rowSpacing, colSpacing float64
	thickness              float64
	modality               string

	pixels []float64
}

// LoadSeries reads every DICOM file under dir, orders the slices along
// the scan direction and stacks them into a single volume with the
// depth axis first. Decoding fans out across opt.NumWorkers goroutines
// and joins before the function returns.
func LoadSeries(dir string, opt LoadOptions) (*volume.Volume, *SeriesInfo, error) {
	files, err := listSeriesFiles(dir)
	if err != nil {
		return nil, nil, err
	}
	if len(files) == 0 {
		return nil, nil, fmt.Errorf("no DICOM files found in %s", dir)
	}

	workers := opt.NumWorkers
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	type decodeResult struct {
		index int
		slice *ctSlice
		err   error
	}
	resultChan := make(chan decodeResult, len(files))
	sem := make(chan struct{}, workers)

	for i, path := range files {
		go func(index int, path string) {
			sem <- struct{}{}
			defer func() { <-sem }()

			s, err := decodeSlice(path)
			resultChan <- decodeResult{index: index, slice: s, err: err}
		}(i, path)
	}

	slices := make([]*ctSlice, len(files))
	for completed := 0; completed < len(files); completed++ {
		res := <-resultChan
		if res.err != nil {
			return nil, nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(files[res.index]), res.err)
		}
		slices[res.index] = res.slice
	}

	sortSlices(slices)

	vol, err := stackSlices(slices)
	if err != nil {
		return nil, nil, err
	}

	info := &SeriesInfo{
		Files:     len(slices),
		Modality:  slices[0].modality,
		VoxelSize: vol.VoxelSize,
	}
	opt.Logger.Info().
		Int("files", info.Files).
		Str("modality", info.Modality).
		Int("rows", vol.Dims[1]).
		Int("cols", vol.Dims[2]).
		Msg("loaded DICOM series")

	return vol, info, nil
}

// listSeriesFiles returns the regular files under dir that look like
// DICOM, either by extension or by the part 10 magic marker.
func listSeriesFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read series directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".dcm" || ext == ".dicom" || hasDICOMMagic(path) {
			files = append(files, path)
		}
	}
	sort.Strings(files)
	return files, nil
}

// hasDICOMMagic reports whether the file carries the DICM marker that
// part 10 files place after the 128-byte preamble. Series exported by
// scanners frequently name their files without any extension.
func hasDICOMMagic(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	header := make([]byte, 132)
	if _, err := io.ReadFull(f, header); err != nil {
		return false
	}
	return string(header[128:]) == "DICM"
}

// decodeSlice parses one DICOM file and converts its first frame to
// rescaled Hounsfield values.
func decodeSlice(path string) (*ctSlice, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DICOM file: %w", err)
	}

	pixelEl, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("missing pixel data: %w", err)
	}
	info := dicom.MustGetPixelDataInfo(pixelEl.Value)
	if info.IsEncapsulated {
		return nil, fmt.Errorf("encapsulated pixel data is not supported, transcode the series to a native transfer syntax first")
	}
	if len(info.Frames) != 1 {
		return nil, fmt.Errorf("want a single frame per file, got %d", len(info.Frames))
	}
	native, err := info.Frames[0].GetNativeFrame()
	if err != nil {
		return nil, fmt.Errorf("failed to read native frame: %w", err)
	}

	slope := 1.0
	if v, ok := floatValue(ds, tag.RescaleSlope); ok {
		slope = v
	}
	intercept := 0.0
	if v, ok := floatValue(ds, tag.RescaleIntercept); ok {
		intercept = v
	}
	signed := false
	if v, ok := intValue(ds, tag.PixelRepresentation); ok && v == 1 {
		signed = true
	}

	s := &ctSlice{
		rows:   native.Rows,
		cols:   native.Cols,
		pixels: framePixels(native, slope, intercept, signed),
	}
	if v, ok := floatValue(ds, tag.SliceLocation); ok {
		s.location, s.hasLocation = v, true
	}
	if pos := floatValues(ds, tag.ImagePositionPatient); len(pos) == 3 {
		// The third component is the through-plane coordinate for
		// axial series.
		s.position, s.hasPosition = pos[2], true
	}
	if v, ok := intValue(ds, tag.InstanceNumber); ok {
		s.instance = v
	}
	if spacing := floatValues(ds, tag.PixelSpacing); len(spacing) == 2 {
		s.rowSpacing, s.colSpacing = spacing[0], spacing[1]
	}
	if v, ok := floatValue(ds, tag.SliceThickness); ok {
		s.thickness = v
	}
	if v, ok := stringValue(ds, tag.Modality); ok {
		s.modality = v
	}
	return s, nil
}

// framePixels flattens a native frame into rescaled scalar values.
// Stored samples are raw unsigned integers, so signed series are
// reinterpreted as two's complement before the slope and intercept
// map them to Hounsfield units.
func framePixels(native *frame.NativeFrame, slope, intercept float64, signed bool) []float64 {
	pixels := make([]float64, len(native.Data))
	for i, sample := range native.Data {
		v := sample[0]
		if signed {
			v = signExtend(v, native.BitsPerSample)
		}
		pixels[i] = float64(v)*slope + intercept
	}
	return pixels
}

// signExtend reinterprets an unsigned sample as a two's complement
// value of the given bit width.
func signExtend(v, bits int) int {
	if bits <= 0 || bits >= 64 {
		return v
	}
	if v >= 1<<(bits-1) {
		v -= 1 << bits
	}
	return v
}

// sortSlices orders slices along the scan direction. Slice location is
// the primary key; series without it fall back to the through-plane
// image position, and finally to the acquisition instance number.
func sortSlices(slices []*ctSlice) {
	sort.SliceStable(slices, func(i, j int) bool {
		return sliceLess(slices[i], slices[j])
	})
}

func sliceLess(a, b *ctSlice) bool {
	if a.hasLocation && b.hasLocation && a.location != b.location {
		return a.location < b.location
	}
	if a.hasPosition && b.hasPosition && a.position != b.position {
		return a.position < b.position
	}
	return a.instance < b.instance
}

// stackSlices concatenates the ordered slices into a volume with the
// depth axis first and fills in the physical voxel spacing. Spacing
// values the headers do not carry fall back to 1 mm.
func stackSlices(slices []*ctSlice) (*volume.Volume, error) {
	first := slices[0]
	if first.rows <= 0 || first.cols <= 0 {
		return nil, fmt.Errorf("slice 0 has dimensions %dx%d", first.rows, first.cols)
	}

	vol := volume.NewVolume(len(slices), first.rows, first.cols)
	area := first.rows * first.cols
	for i, s := range slices {
		if s.rows != first.rows || s.cols != first.cols {
			return nil, fmt.Errorf("slice %d has dimensions %dx%d, want %dx%d", i, s.rows, s.cols, first.rows, first.cols)
		}
		copy(vol.Data[i*area:(i+1)*area], s.pixels)
	}
	vol.VoxelSize = [3]float64{
		spacingOrDefault(first.thickness),
		spacingOrDefault(first.rowSpacing),
		spacingOrDefault(first.colSpacing),
	}
	return vol, nil
}

func spacingOrDefault(s float64) float64 {
	if s <= 0 {
		return 1
	}
	return s
}

// stringValue reads the first string of a tag, trimmed of the padding
// DICOM adds to odd-length values.
func stringValue(ds dicom.Dataset, t tag.Tag) (string, bool) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return "", false
	}
	vals, ok := el.Value.GetValue().([]string)
	if !ok || len(vals) == 0 {
		return "", false
	}
	return strings.TrimSpace(vals[0]), true
}

// floatValue reads a single decimal string tag such as SliceLocation.
func floatValue(ds dicom.Dataset, t tag.Tag) (float64, bool) {
	s, ok := stringValue(ds, t)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// floatValues reads a multi-valued decimal string tag such as
// PixelSpacing or ImagePositionPatient.
func floatValues(ds dicom.Dataset, t tag.Tag) []float64 {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return nil
	}
	vals, ok := el.Value.GetValue().([]string)
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(vals))
	for _, s := range vals {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil
		}
		out = append(out, v)
	}
	return out
}

// intValue reads an integer tag. Unsigned short tags decode to ints
// and integer string tags to strings, so both shapes are accepted.
func intValue(ds dicom.Dataset, t tag.Tag) (int, bool) {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return 0, false
	}
	switch v := el.Value.GetValue().(type) {
	case []int:
		if len(v) > 0 {
			return v[0], true
		}
	case []string:
		if len(v) > 0 {
			n, err := strconv.Atoi(strings.TrimSpace(v[0]))
			if err == nil {
				return n, true
			}
		}
	}
	return 0, false
}
