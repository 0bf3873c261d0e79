package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path/filepath"
	"strings"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

var ErrUnreadableImage = errors.New("imaging: unreadable image")

var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// AllowedExtension reports whether an upload's file name has a supported
// image extension.
func AllowedExtension(name string) bool {
	return allowedExtensions[strings.ToLower(filepath.Ext(name))]
}

// MaxPixels caps width*height of an accepted image. The header is checked
// before the bitmap is allocated.
const MaxPixels = 50_000_000

// Decode reads a JPEG, PNG, GIF, BMP or TIFF image.
func Decode(r io.Reader) (image.Image, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnreadableImage, err)
	}
	return DecodeBytes(data)
}

// DecodeBytes is Decode over an in-memory upload.
func DecodeBytes(data []byte) (image.Image, string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnreadableImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", fmt.Errorf("%w: empty image", ErrUnreadableImage)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, "", fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrUnreadableImage, cfg.Width, cfg.Height, MaxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnreadableImage, err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, "", fmt.Errorf("%w: empty image", ErrUnreadableImage)
	}
	return img, format, nil
}

type Layout string

const (
	LayoutNHWC Layout = "nhwc"
	LayoutNCHW Layout = "nchw"
)

// InputSpec describes the tensor a classifier expects.
type InputSpec struct {
	Size   int
	Layout Layout
}

func (s InputSpec) Validate() error {
	if s.Size <= 0 {
		return fmt.Errorf("input size must be positive, got %d", s.Size)
	}
	if s.Layout != LayoutNHWC && s.Layout != LayoutNCHW {
		return fmt.Errorf("unknown layout %q", s.Layout)
	}
	return nil
}

// Shape is the batch-of-one tensor shape for the spec.
func (s InputSpec) Shape() []int64 {
	n := int64(s.Size)
	if s.Layout == LayoutNCHW {
		return []int64{1, 3, n, n}
	}
	return []int64{1, n, n, 3}
}

// Tensor is a dense float32 input tensor.
type Tensor struct {
	Shape []int64   `json:"shape"`
	Data  []float32 `json:"input"`
}

// Preprocess resizes the image to the spec's square size and scales RGB to
// [0,1] in the spec's layout.
func Preprocess(img image.Image, spec InputSpec) Tensor {
	size := spec.Size
	resized := resize.Resize(uint(size), uint(size), img, resize.Bilinear)
	bounds := resized.Bounds()

	plane := size * size
	data := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			rn := float32(r) / 65535.0
			gn := float32(g) / 65535.0
			bn := float32(b) / 65535.0

			idx := y*size + x
			if spec.Layout == LayoutNCHW {
				data[idx] = rn
				data[plane+idx] = gn
				data[2*plane+idx] = bn
				continue
			}
			data[3*idx] = rn
			data[3*idx+1] = gn
			data[3*idx+2] = bn
		}
	}

	return Tensor{Shape: spec.Shape(), Data: data}
}
