package nifti

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/h2non/filetype"

	"dicom2glb/internal/models"
)

var (
	// ErrNotNIfTI is returned when the header does not describe a NIfTI-1 file
	ErrNotNIfTI = errors.New("not a NIfTI-1 file")

	// ErrNoScalarData is returned when the header describes no voxels or
	// an unsupported voxel type
	ErrNoScalarData = errors.New("volume has no scalar data")

	// ErrTooLarge is returned when the header describes more than MaxVoxels
	ErrTooLarge = errors.New("volume exceeds the voxel limit")
)

// MaxVoxels bounds the grid size accepted from a header
const MaxVoxels = 1 << 30

// ReadFile reads a .nii or .nii.gz file. Compression is detected from the
// content, so mislabelled files still load.
func ReadFile(path string) (*models.Volume, *Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	vol, hdr, err := Read(f)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return vol, hdr, nil
}

// Read decodes a NIfTI-1 stream, transparently inflating gzip content
func Read(r io.Reader) (*models.Volume, *Header, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(3)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	var src io.Reader = br
	if filetype.Is(magic, "gz") {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		defer zr.Close()
		src = bufio.NewReader(zr)
	}

	raw := make([]byte, HeaderSize)
	if _, err := io.ReadFull(src, raw); err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}
	hdr, order, err := decodeHeader(raw)
	if err != nil {
		return nil, nil, err
	}

	nx, ny, nz := hdr.Spatial()
	size := hdr.Datatype.Size()
	if size == 0 || nx*ny*nz == 0 {
		return nil, nil, fmt.Errorf("%w: %s with dims %v", ErrNoScalarData, hdr.Datatype, hdr.Dim)
	}

	// skip extensions up to the data offset
	if skip := int64(hdr.VoxOffset) - HeaderSize; skip > 0 {
		if _, err := io.CopyN(io.Discard, src, skip); err != nil {
			return nil, nil, fmt.Errorf("failed to seek to voxel data: %w", err)
		}
	}

	count := nx * ny * nz
	if count > MaxVoxels {
		return nil, nil, fmt.Errorf("%w: dims %dx%dx%d", ErrTooLarge, nx, ny, nz)
	}

	// the buffer grows with the data actually present, so a header
	// claiming more voxels than the stream holds fails cheaply
	want := int64(count) * int64(size)
	buf, err := io.ReadAll(io.LimitReader(src, want))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read voxel data: %w", err)
	}
	if int64(len(buf)) < want {
		return nil, nil, fmt.Errorf("failed to read voxel data: %w: %d of %d bytes", io.ErrUnexpectedEOF, len(buf), want)
	}

	vol := models.NewVolume(nx, ny, nz)
	decodeVoxels(vol.Data, buf, hdr.Datatype, order)
	if slope, inter, ok := hdr.scaling(); ok {
		for i, v := range vol.Data {
			vol.Data[i] = v*slope + inter
		}
	}

	vol.VoxelSize.X, vol.VoxelSize.Y, vol.VoxelSize.Z = hdr.spacing()
	vol.Affine = hdr.Affine()
	return vol, hdr, nil
}

// decodeHeader parses the fixed header in whichever byte order yields
// the expected header size
func decodeHeader(raw []byte) (*Header, binary.ByteOrder, error) {
	var order binary.ByteOrder = binary.LittleEndian
	if int32(order.Uint32(raw[:4])) != HeaderSize {
		order = binary.BigEndian
		if int32(order.Uint32(raw[:4])) != HeaderSize {
			return nil, nil, ErrNotNIfTI
		}
	}

	hdr := &Header{}
	if _, err := binary.Decode(raw, order, hdr); err != nil {
		return nil, nil, fmt.Errorf("failed to decode header: %w", err)
	}
	magic := string(hdr.Magic[:3])
	if magic != "n+1" && magic != "ni1" {
		return nil, nil, fmt.Errorf("%w: magic %q", ErrNotNIfTI, strings.TrimRight(string(hdr.Magic[:]), "\x00"))
	}
	return hdr, order, nil
}

func decodeVoxels(dst []float64, buf []byte, dt Datatype, order binary.ByteOrder) {
	for i := range dst {
		switch dt {
		case Uint8:
			dst[i] = float64(buf[i])
		case Int8:
			dst[i] = float64(int8(buf[i]))
		case Int16:
			dst[i] = float64(int16(order.Uint16(buf[i*2:])))
		case Uint16:
			dst[i] = float64(order.Uint16(buf[i*2:]))
		case Int32:
			dst[i] = float64(int32(order.Uint32(buf[i*4:])))
		case Uint32:
			dst[i] = float64(order.Uint32(buf[i*4:]))
		case Float32:
			dst[i] = float64(math.Float32frombits(order.Uint32(buf[i*4:])))
		case Int64:
			dst[i] = float64(int64(order.Uint64(buf[i*8:])))
		case Uint64:
			dst[i] = float64(order.Uint64(buf[i*8:]))
		case Float64:
			dst[i] = math.Float64frombits(order.Uint64(buf[i*8:]))
		}
	}
}
