// Package nrrd persists segmentation results in the NRRD volumetric
// file format. Masks are written as gzip encoded uint8 grids and scalar
// volumes as float64, and the reader covers the sample types common
// medical imaging tools emit so pre-extracted volumes can be loaded
// directly.
package nrrd

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"boneseg/pkg/volume"
)

// Sample kinds the reader converts to float64 voxels.
const (
	kindUint8 = iota
	kindInt16
	kindUint16
	kindInt32
	kindFloat32
	kindFloat64
)

// elemType describes one supported NRRD sample type.
type elemType struct {
	size int
	kind int
}

// elemTypes maps the NRRD type names and their aliases onto sample
// descriptions.
var elemTypes = map[string]elemType{
	"uint8":          {1, kindUint8},
	"uint8_t":        {1, kindUint8},
	"uchar":          {1, kindUint8},
	"unsigned char":  {1, kindUint8},
	"int16":          {2, kindInt16},
	"int16_t":        {2, kindInt16},
	"short":          {2, kindInt16},
	"signed short":   {2, kindInt16},
	"uint16":         {2, kindUint16},
	"uint16_t":       {2, kindUint16},
	"ushort":         {2, kindUint16},
	"unsigned short": {2, kindUint16},
	"int32":          {4, kindInt32},
	"int32_t":        {4, kindInt32},
	"int":            {4, kindInt32},
	"signed int":     {4, kindInt32},
	"float":          {4, kindFloat32},
	"float32":        {4, kindFloat32},
	"double":         {8, kindFloat64},
	"float64":        {8, kindFloat64},
}

// maxVoxels caps the grid size the reader will allocate for, guarding
// against corrupt sizes fields.
const maxVoxels = int64(1) << 31

// WriteMask persists a boolean mask as a gzip encoded uint8 NRRD file,
// one byte per voxel. Masks carry no spacing of their own, so the
// voxel size of the source volume is passed through.
func WriteMask(path string, m *volume.Mask, voxelSize [3]float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create NRRD file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := writeHeader(w, "uint8", 1, m.Dims, voxelSize); err != nil {
		return err
	}

	data := make([]byte, len(m.Data))
	for i, set := range m.Data {
		if set {
			data[i] = 1
		}
	}
	zw := gzip.NewWriter(w)
	if _, err := zw.Write(data); err != nil {
		return fmt.Errorf("failed to write mask data: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return w.Flush()
}

// WriteVolume persists a scalar volume as a gzip encoded float64 NRRD
// file.
func WriteVolume(path string, v *volume.Volume) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create NRRD file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := writeHeader(w, "double", 8, v.Dims, v.VoxelSize); err != nil {
		return err
	}

	zw := gzip.NewWriter(w)
	buf := make([]byte, 8)
	for _, val := range v.Data {
		binary.LittleEndian.PutUint64(buf, math.Float64bits(val))
		if _, err := zw.Write(buf); err != nil {
			return fmt.Errorf("failed to write volume data: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return w.Flush()
}

// writeHeader emits the NRRD0004 header. NRRD orders sizes and
// spacings fastest axis first, the reverse of the volume's dimension
// order. The endian field only applies to multi-byte samples.
func writeHeader(w io.Writer, typeName string, elemSize int, dims [3]int, spacing [3]float64) error {
	var b strings.Builder
	b.WriteString("NRRD0004\n")
	fmt.Fprintf(&b, "type: %s\n", typeName)
	b.WriteString("dimension: 3\n")
	fmt.Fprintf(&b, "sizes: %d %d %d\n", dims[2], dims[1], dims[0])
	fmt.Fprintf(&b, "spacings: %g %g %g\n", spacing[2], spacing[1], spacing[0])
	if elemSize > 1 {
		b.WriteString("endian: little\n")
	}
	b.WriteString("encoding: gzip\n")
	b.WriteString("\n")

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("failed to write NRRD header: %w", err)
	}
	return nil
}

// header collects the parsed NRRD fields the reader acts on.
type header struct {
	typeName  string
	dimension int
	sizes     []int
	spacings  []float64
	encoding  string
	endian    string
}

// Read loads a 3D NRRD file into a volume. Little-endian raw and gzip
// encodings are supported, with samples converted to float64.
func Read(path string) (*volume.Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open NRRD file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	hdr, err := parseHeader(r)
	if err != nil {
		return nil, err
	}
	return readData(r, hdr)
}

// parseHeader consumes the header lines up to and including the blank
// line that separates them from the data section. Comments, key-value
// pairs and unknown fields are skipped.
func parseHeader(r *bufio.Reader) (*header, error) {
	magic, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read NRRD magic: %w", err)
	}
	if !strings.HasPrefix(magic, "NRRD") {
		return nil, fmt.Errorf("not an NRRD file, magic line is %q", strings.TrimRight(magic, "\r\n"))
	}

	hdr := &header{}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("unexpected end of NRRD header: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if strings.HasPrefix(line, "#") || strings.Contains(line, ":=") {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			return nil, fmt.Errorf("malformed NRRD header line %q", line)
		}
		field := strings.ToLower(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])

		switch field {
		case "type":
			hdr.typeName = strings.ToLower(value)
		case "dimension":
			hdr.dimension, err = strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid NRRD dimension %q: %w", value, err)
			}
		case "sizes":
			for _, s := range strings.Fields(value) {
				n, err := strconv.Atoi(s)
				if err != nil {
					return nil, fmt.Errorf("invalid NRRD sizes %q: %w", value, err)
				}
				hdr.sizes = append(hdr.sizes, n)
			}
		case "spacings":
			for _, s := range strings.Fields(value) {
				v, err := strconv.ParseFloat(s, 64)
				if err != nil {
					return nil, fmt.Errorf("invalid NRRD spacings %q: %w", value, err)
				}
				hdr.spacings = append(hdr.spacings, v)
			}
		case "encoding":
			hdr.encoding = strings.ToLower(value)
		case "endian":
			hdr.endian = strings.ToLower(value)
		}
	}
	return hdr, nil
}

// readData validates the parsed header, decodes the data section and
// assembles the volume.
func readData(r io.Reader, hdr *header) (*volume.Volume, error) {
	if hdr.dimension != 3 || len(hdr.sizes) != 3 {
		return nil, fmt.Errorf("want a 3D NRRD volume, got dimension %d with sizes %v", hdr.dimension, hdr.sizes)
	}
	elem, ok := elemTypes[hdr.typeName]
	if !ok {
		return nil, fmt.Errorf("unsupported NRRD type %q", hdr.typeName)
	}
	if elem.size > 1 && hdr.endian != "" && hdr.endian != "little" {
		return nil, fmt.Errorf("unsupported NRRD endianness %q", hdr.endian)
	}

	var total int64 = 1
	for _, s := range hdr.sizes {
		if s <= 0 || int64(s) > maxVoxels {
			return nil, fmt.Errorf("invalid NRRD sizes %v", hdr.sizes)
		}
		if total > maxVoxels/int64(s) {
			return nil, fmt.Errorf("NRRD grid %v exceeds the supported voxel count", hdr.sizes)
		}
		total *= int64(s)
	}

	var dataReader io.Reader
	switch hdr.encoding {
	case "raw":
		dataReader = r
	case "gzip", "gz":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer zr.Close()
		dataReader = zr
	default:
		return nil, fmt.Errorf("unsupported NRRD encoding %q", hdr.encoding)
	}

	raw := make([]byte, total*int64(elem.size))
	if _, err := io.ReadFull(dataReader, raw); err != nil {
		return nil, fmt.Errorf("failed to read NRRD data: %w", err)
	}

	// Sizes and spacings run fastest axis first, volumes slowest
	// first.
	vol := &volume.Volume{
		Data:      make([]float64, total),
		Dims:      [3]int{hdr.sizes[2], hdr.sizes[1], hdr.sizes[0]},
		VoxelSize: [3]float64{1, 1, 1},
	}
	if len(hdr.spacings) == 3 {
		vol.VoxelSize = [3]float64{hdr.spacings[2], hdr.spacings[1], hdr.spacings[0]}
	}

	switch elem.kind {
	case kindUint8:
		for i := range vol.Data {
			vol.Data[i] = float64(raw[i])
		}
	case kindInt16:
		for i := range vol.Data {
			vol.Data[i] = float64(int16(binary.LittleEndian.Uint16(raw[2*i:])))
		}
	case kindUint16:
		for i := range vol.Data {
			vol.Data[i] = float64(binary.LittleEndian.Uint16(raw[2*i:]))
		}
	case kindInt32:
		for i := range vol.Data {
			vol.Data[i] = float64(int32(binary.LittleEndian.Uint32(raw[4*i:])))
		}
	case kindFloat32:
		for i := range vol.Data {
			vol.Data[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:])))
		}
	case kindFloat64:
		for i := range vol.Data {
			vol.Data[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
		}
	}
	return vol, nil
}
