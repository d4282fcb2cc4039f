package nrrd

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boneseg/pkg/volume"
)

// writeRawNRRD assembles a minimal NRRD file from header fields and a
// prebuilt data section.
func writeRawNRRD(t *testing.T, path string, fields []string, payload []byte) {
	t.Helper()

	var buf bytes.Buffer
	buf.WriteString("NRRD0004\n")
	for _, f := range fields {
		buf.WriteString(f + "\n")
	}
	buf.WriteString("\n")
	buf.Write(payload)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

// lePayload serializes numeric slices little-endian for raw data
// sections.
func lePayload(t *testing.T, data interface{}) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, data))
	return buf.Bytes()
}

// TestWriteVolumeReadRoundTrip verifies that a written volume reads
// back bit-identical with its dimensions and spacing intact.
func TestWriteVolumeReadRoundTrip(t *testing.T) {
	v := volume.NewVolume(3, 4, 5)
	for i := range v.Data {
		v.Data[i] = float64(i) - 30.5
	}
	v.VoxelSize = [3]float64{2.5, 0.7, 0.8}

	path := filepath.Join(t.TempDir(), "vol.nrrd")
	require.NoError(t, WriteVolume(path, v))

	got, err := Read(path)
	require.NoError(t, err)

	assert.Equal(t, v.Dims, got.Dims)
	assert.Equal(t, v.VoxelSize, got.VoxelSize)
	assert.Equal(t, v.Data, got.Data)
}

// TestWriteMaskReadRoundTrip verifies that masks persist as 0/1 voxels
// and carry the spacing they were written with.
func TestWriteMaskReadRoundTrip(t *testing.T) {
	m := volume.NewMask([3]int{2, 3, 4})
	m.Set(0, 1, 2, true)
	m.Set(1, 0, 0, true)
	m.Set(1, 2, 3, true)

	path := filepath.Join(t.TempDir(), "mask.nrrd")
	require.NoError(t, WriteMask(path, m, [3]float64{1.5, 0.5, 0.5}))

	got, err := Read(path)
	require.NoError(t, err)

	assert.Equal(t, m.Dims, got.Dims)
	assert.Equal(t, [3]float64{1.5, 0.5, 0.5}, got.VoxelSize)

	set := 0
	for _, val := range got.Data {
		if val != 0 {
			require.Equal(t, 1.0, val)
			set++
		}
	}
	assert.Equal(t, 3, set)
	assert.Equal(t, 1.0, got.At(0, 1, 2))
	assert.Equal(t, 0.0, got.At(0, 0, 0))
}

// TestReadRawTypes verifies the sample type conversions on raw encoded
// files built by hand, the way external tools would write them.
func TestReadRawTypes(t *testing.T) {
	tests := []struct {
		name     string
		typeName string
		payload  []byte
		want     []float64
	}{
		{"uint8", "uchar", []byte{0, 7, 255, 1}, []float64{0, 7, 255, 1}},
		{"int16", "short", lePayload(t, []int16{-1024, 3071, 0, 500}), []float64{-1024, 3071, 0, 500}},
		{"uint16", "uint16", lePayload(t, []uint16{0, 65535, 12, 42}), []float64{0, 65535, 12, 42}},
		{"int32", "int", lePayload(t, []int32{-70000, 1, 2, 70000}), []float64{-70000, 1, 2, 70000}},
		{"float32", "float", lePayload(t, []float32{1.5, -2.25, 0, 100}), []float64{1.5, -2.25, 0, 100}},
		{"float64", "double", lePayload(t, []float64{3.25, -0.5, 1e6, 0}), []float64{3.25, -0.5, 1e6, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "v.nrrd")
			writeRawNRRD(t, path, []string{
				"type: " + tt.typeName,
				"dimension: 3",
				"sizes: 2 2 1",
				"endian: little",
				"encoding: raw",
			}, tt.payload)

			got, err := Read(path)
			require.NoError(t, err)

			assert.Equal(t, [3]int{1, 2, 2}, got.Dims)
			assert.Equal(t, [3]float64{1, 1, 1}, got.VoxelSize)
			assert.Equal(t, tt.want, got.Data)
		})
	}
}

// TestReadHeaderExtras verifies that comments, key-value pairs and
// unknown fields are skipped and spacings map back to volume axes.
func TestReadHeaderExtras(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.nrrd")
	writeRawNRRD(t, path, []string{
		"# produced by an external tool",
		"content: femur",
		"session:=batch 12",
		"type: uchar",
		"dimension: 3",
		"sizes: 2 1 1",
		"spacings: 0.5 0.6 0.7",
		"encoding: raw",
	}, []byte{9, 8})

	got, err := Read(path)
	require.NoError(t, err)

	assert.Equal(t, [3]int{1, 1, 2}, got.Dims)
	assert.Equal(t, [3]float64{0.7, 0.6, 0.5}, got.VoxelSize)
	assert.Equal(t, []float64{9, 8}, got.Data)
}

// TestReadGzipAlias verifies the "gz" encoding alias some writers use.
func TestReadGzipAlias(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("NRRD0004\ntype: uchar\ndimension: 3\nsizes: 2 1 1\nencoding: gz\n\n")
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte{5, 6})
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "v.nrrd")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 6}, got.Data)
}

// TestReadRejectsMalformed verifies the reader's failure modes on
// files it must not accept.
func TestReadRejectsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		fields  []string
		payload []byte
		wantErr string
	}{
		{
			name:    "wrong dimension",
			fields:  []string{"type: uchar", "dimension: 2", "sizes: 2 2", "encoding: raw"},
			payload: []byte{1, 2, 3, 4},
			wantErr: "3D",
		},
		{
			name:    "unsupported type",
			fields:  []string{"type: int64", "dimension: 3", "sizes: 1 1 1", "encoding: raw"},
			payload: make([]byte, 8),
			wantErr: "unsupported NRRD type",
		},
		{
			name:    "big endian",
			fields:  []string{"type: short", "dimension: 3", "sizes: 1 1 1", "endian: big", "encoding: raw"},
			payload: make([]byte, 2),
			wantErr: "endianness",
		},
		{
			name:    "unknown encoding",
			fields:  []string{"type: uchar", "dimension: 3", "sizes: 1 1 1", "encoding: hex"},
			payload: []byte{1},
			wantErr: "encoding",
		},
		{
			name:    "truncated data",
			fields:  []string{"type: uchar", "dimension: 3", "sizes: 2 2 2", "encoding: raw"},
			payload: []byte{1, 2, 3},
			wantErr: "failed to read NRRD data",
		},
		{
			name:    "zero size",
			fields:  []string{"type: uchar", "dimension: 3", "sizes: 0 2 2", "encoding: raw"},
			payload: nil,
			wantErr: "invalid NRRD sizes",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.nrrd")
			writeRawNRRD(t, path, tt.fields, tt.payload)

			_, err := Read(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// TestReadRejectsWrongMagic verifies that files without the NRRD magic
// line are refused outright.
func TestReadRejectsWrongMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.nrrd")
	require.NoError(t, os.WriteFile(path, []byte("JUNK0004\ntype: uchar\n\n"), 0644))

	_, err := Read(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an NRRD file")
}
