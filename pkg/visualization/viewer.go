// Package visualization renders projected stacks as images for quick
// inspection.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"

	"github.com/claudiasc89/image-analysis-portfolio/internal/models"
)

// Viewer extracts planes and kymographs from a projected time series.
type Viewer struct {
	// stack holds one projected plane per timepoint
	stack models.Stack

	// autoContrast stretches the intensity range of the whole stack to
	// the full 16-bit range
	autoContrast bool

	lo, hi uint16
}

// NewViewer creates a viewer over stack. With autoContrast the darkest and
// brightest pixels of the stack are mapped to 0 and 65535, which makes
// previews of dim acquisitions readable.
func NewViewer(stack models.Stack, autoContrast bool) *Viewer {
	v := &Viewer{stack: stack, autoContrast: autoContrast, hi: 65535}
	if autoContrast {
		v.lo, v.hi = intensityRange(stack)
	}
	return v
}

// ExtractPlane returns the projected plane of timepoint t.
func (v *Viewer) ExtractPlane(t int) (*image.Gray16, error) {
	if t < 0 || t >= v.stack.Len() {
		return nil, fmt.Errorf("timepoint %d out of range [0, %d)", t, v.stack.Len())
	}

	p := v.stack.Planes[t]
	img := image.NewGray16(image.Rect(0, 0, p.Width, p.Height))
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			img.SetGray16(x, y, color.Gray16{Y: v.scale(p.At(x, y))})
		}
	}
	return img, nil
}

// ExtractLine returns a kymograph: the intensities along one line of every
// plane, stacked over time.
//
// For axis "x" the line is column position and the image is T wide and Y
// high. For axis "y" the line is row position and the image is X wide and
// T high.
func (v *Viewer) ExtractLine(axis string, position int) (*image.Gray16, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	frames := v.stack.Len()
	width, height := v.stack.Width, v.stack.Height

	var img *image.Gray16

	switch axis {
	case "x", "X":
		if position >= width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, width)
		}
		img = image.NewGray16(image.Rect(0, 0, frames, height))
		for t, p := range v.stack.Planes {
			for y := 0; y < height; y++ {
				img.SetGray16(t, y, color.Gray16{Y: v.scale(p.At(position, y))})
			}
		}

	case "y", "Y":
		if position >= height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, height)
		}
		img = image.NewGray16(image.Rect(0, 0, width, frames))
		for t, p := range v.stack.Planes {
			for x := 0; x < width; x++ {
				img.SetGray16(x, t, color.Gray16{Y: v.scale(p.At(x, position))})
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x or y)", axis)
	}

	return img, nil
}

// SaveImage encodes img to filename. The format follows the extension:
// .png, .tif/.tiff or .jpg/.jpeg.
func (v *Viewer) SaveImage(img image.Image, filename string) error {
	var encode func(w *os.File) error
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		encode = func(w *os.File) error { return png.Encode(w, img) }
	case ".tif", ".tiff":
		encode = func(w *os.File) error { return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate}) }
	case ".jpg", ".jpeg":
		encode = func(w *os.File) error { return jpeg.Encode(w, img, &jpeg.Options{Quality: 90}) }
	default:
		return fmt.Errorf("unsupported image format: %s", filepath.Ext(filename))
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := encode(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SavePlaneSequence writes every plane to outputDir as
// plane_t_<index>.<format>.
func (v *Viewer) SavePlaneSequence(outputDir, format string) error {
	ext, err := extension(format)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for t := 0; t < v.stack.Len(); t++ {
		img, err := v.ExtractPlane(t)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("plane_t_%03d%s", t, ext))
		if err := v.SaveImage(img, filename); err != nil {
			return err
		}
	}

	return nil
}

// extension maps a preview format to a file extension
func extension(format string) (string, error) {
	switch strings.ToLower(format) {
	case "png":
		return ".png", nil
	case "tif", "tiff":
		return ".tif", nil
	case "jpg", "jpeg":
		return ".jpg", nil
	}
	return "", fmt.Errorf("invalid format: %s (must be png, tif or jpg)", format)
}

// scale applies the contrast stretch
func (v *Viewer) scale(px uint16) uint16 {
	if !v.autoContrast {
		return px
	}
	if v.hi <= v.lo {
		return 0
	}
	if px <= v.lo {
		return 0
	}
	if px >= v.hi {
		return 65535
	}
	return uint16(uint32(px-v.lo) * 65535 / uint32(v.hi-v.lo))
}

// intensityRange returns the smallest and largest pixel of the stack
func intensityRange(stack models.Stack) (lo, hi uint16) {
	lo = 65535
	for _, p := range stack.Planes {
		for _, px := range p.Data {
			lo = min(lo, px)
			hi = max(hi, px)
		}
	}
	if lo > hi {
		return 0, 0
	}
	return lo, hi
}
