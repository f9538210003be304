// Package dist defines the on-disk wire format for compiled Ash images.
package dist

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// FormatVersion is the current image format version.
const FormatVersion = 1

// FunctionEntry describes one compiled function in an image.
type FunctionEntry struct {
	Name        string `cbor:"name"`
	Address     uint64 `cbor:"address"`
	NumArgs     int    `cbor:"nargs"`
	GlobalIndex int    `cbor:"global"`
}

// Image is a serialized compiled module: the bytecode, its entry offset
// and the function directory.
type Image struct {
	Version   int             `cbor:"version"`
	Module    string          `cbor:"module"`
	Entry     uint64          `cbor:"entry"`
	Code      []byte          `cbor:"code"`
	Functions []FunctionEntry `cbor:"functions"`
}

// cborEncMode uses canonical options for deterministic encoding, so image
// bytes are stable for a given input and safe to content-address.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dist: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalImage serializes an image to CBOR bytes.
func MarshalImage(img *Image) ([]byte, error) {
	return cborEncMode.Marshal(img)
}

// UnmarshalImage deserializes an image from CBOR bytes.
func UnmarshalImage(data []byte) (*Image, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("dist: unmarshal image: %w", err)
	}
	if img.Version != FormatVersion {
		return nil, fmt.Errorf("dist: unsupported image version %d", img.Version)
	}
	return &img, nil
}

// WriteImage marshals the image and writes it to path.
func WriteImage(path string, img *Image) error {
	data, err := MarshalImage(img)
	if err != nil {
		return fmt.Errorf("dist: marshal image: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("dist: write image: %w", err)
	}
	return nil
}

// ReadImage reads and unmarshals an image from path.
func ReadImage(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dist: read image: %w", err)
	}
	return UnmarshalImage(data)
}
