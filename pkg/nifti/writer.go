package nifti

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"dicom2glb/internal/models"
)

// voxOffset is the data offset of a single-file NIfTI-1 image: the
// header followed by a four byte empty extension block
const voxOffset = HeaderSize + 4

// WriteFile writes the volume as a single-file NIfTI-1 image. Paths
// ending in .gz are gzip compressed.
func WriteFile(path string, vol *models.Volume, dt Datatype) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	var w io.Writer = f
	var zw *gzip.Writer
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		zw = gzip.NewWriter(f)
		w = zw
	}

	if err := Write(w, vol, dt); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			f.Close()
			return fmt.Errorf("failed to finish gzip stream: %w", err)
		}
	}
	return f.Close()
}

// Write encodes the volume in little-endian NIfTI-1 format
func Write(w io.Writer, vol *models.Volume, dt Datatype) error {
	size := dt.Size()
	if size == 0 {
		return fmt.Errorf("unsupported datatype %s", dt)
	}

	hdr := NewHeader(vol, dt)
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return fmt.Errorf("failed to write extension block: %w", err)
	}

	buf := make([]byte, len(vol.Data)*size)
	encodeVoxels(buf, vol.Data, dt)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write voxel data: %w", err)
	}
	return nil
}

// NewHeader builds a header describing vol. The sform is taken from the
// volume affine when present.
func NewHeader(vol *models.Volume, dt Datatype) *Header {
	hdr := &Header{
		SizeofHdr: HeaderSize,
		Regular:   'r',
		Datatype:  dt,
		Bitpix:    int16(dt.Size() * 8),
		VoxOffset: voxOffset,
		SclSlope:  1,
		XYZTUnits: 2, // mm
	}
	hdr.Dim = [8]int16{3, int16(vol.Width), int16(vol.Height), int16(vol.Depth), 1, 1, 1, 1}
	hdr.Pixdim = [8]float32{1, float32(vol.VoxelSize.X), float32(vol.VoxelSize.Y), float32(vol.VoxelSize.Z), 0, 0, 0, 0}
	copy(hdr.Magic[:], "n+1\x00")

	if vol.Affine != nil {
		hdr.SformCode = 1
		for c := 0; c < 4; c++ {
			hdr.SrowX[c] = float32(vol.Affine.At(0, c))
			hdr.SrowY[c] = float32(vol.Affine.At(1, c))
			hdr.SrowZ[c] = float32(vol.Affine.At(2, c))
		}
	}
	return hdr
}

func encodeVoxels(buf []byte, src []float64, dt Datatype) {
	le := binary.LittleEndian
	for i, v := range src {
		switch dt {
		case Uint8:
			buf[i] = uint8(v)
		case Int8:
			buf[i] = byte(int8(v))
		case Int16:
			le.PutUint16(buf[i*2:], uint16(int16(v)))
		case Uint16:
			le.PutUint16(buf[i*2:], uint16(v))
		case Int32:
			le.PutUint32(buf[i*4:], uint32(int32(v)))
		case Uint32:
			le.PutUint32(buf[i*4:], uint32(v))
		case Float32:
			le.PutUint32(buf[i*4:], math.Float32bits(float32(v)))
		case Int64:
			le.PutUint64(buf[i*8:], uint64(int64(v)))
		case Uint64:
			le.PutUint64(buf[i*8:], uint64(v))
		case Float64:
			le.PutUint64(buf[i*8:], math.Float64bits(v))
		}
	}
}
