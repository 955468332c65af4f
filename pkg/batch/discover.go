package batch

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/h2non/filetype"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"dicom2glb/pkg/extraction"
)

// Kind tells how an input volume is stored
type Kind int

const (
	NIfTI Kind = iota
	DICOM
)

func (k Kind) String() string {
	if k == DICOM {
		return "dicom"
	}
	return "nifti"
}

// Input is one scan found under the input directory
type Input struct {
	Path string
	Name string
	Kind Kind
}

// dicomHeaderSize covers the preamble and the DICM magic
const dicomHeaderSize = 132

// Discover walks root and returns the scans under it in lexical order.
// Loose .nii and .nii.gz files are inputs; a directory holding DICOM
// files is a single input and is not descended further. Paths under
// skip are ignored.
func Discover(root string, skip ...string) ([]Input, error) {
	var inputs []Input
	names := make(map[string]int)
	unique := func(name string) string {
		names[name]++
		if n := names[name]; n > 1 {
			return name + "_" + strconv.Itoa(n)
		}
		return name
	}

	skipped := make(map[string]bool)
	for _, s := range skip {
		if abs, err := filepath.Abs(s); err == nil && s != "" {
			skipped[abs] = true
		}
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if abs, err := filepath.Abs(path); err == nil && skipped[abs] {
				return filepath.SkipDir
			}
			ok, err := isDICOMDir(path)
			if err != nil {
				return err
			}
			if ok {
				inputs = append(inputs, Input{Path: path, Name: unique(filepath.Base(path)), Kind: DICOM})
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && extraction.IsNIfTI(path) {
			inputs = append(inputs, Input{Path: path, Name: unique(extraction.TaskName(path)), Kind: NIfTI})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	return inputs, nil
}

// isDICOMDir reports whether dir directly contains a DICOM file, by
// extension or by the DICM magic
func isDICOMDir(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".dcm") {
			return true, nil
		}
		if extraction.IsNIfTI(e.Name()) {
			continue
		}
		if ok, _ := hasDICOMMagic(filepath.Join(dir, e.Name())); ok {
			return true, nil
		}
	}
	return false, nil
}

func hasDICOMMagic(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, dicomHeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return false, nil
	}
	return filetype.Is(buf, "dcm"), nil
}

// Modality reads the modality tag of the first DICOM file in dir
func Modality(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if !strings.EqualFold(filepath.Ext(e.Name()), ".dcm") {
			if ok, _ := hasDICOMMagic(path); !ok {
				continue
			}
		}
		dataset, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
		if err != nil {
			continue
		}
		elem, err := dataset.FindElementByTag(tag.Modality)
		if err != nil {
			return "", fmt.Errorf("%s: %w", path, err)
		}
		values := dicom.MustGetStrings(elem.Value)
		if len(values) == 0 {
			return "", fmt.Errorf("%s: empty modality", path)
		}
		return strings.TrimSpace(values[0]), nil
	}
	return "", errors.New("no readable DICOM file")
}

// isGzip sniffs the gzip magic, whatever the extension
func isGzip(path string) bool {
	kind, err := filetype.MatchFile(path)
	return err == nil && kind.Extension == "gz"
}

// decompress inflates a gzip file to dst
func decompress(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer zr.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, zr); err != nil {
		out.Close()
		return fmt.Errorf("failed to decompress %s: %w", src, err)
	}
	return out.Close()
}
