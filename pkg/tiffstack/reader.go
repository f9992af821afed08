// Package tiffstack reads and writes multi-page grayscale TIFF stacks as
// written by ImageJ/Fiji.
//
// Page pixels are decoded with golang.org/x/image/tiff, which only looks at
// the first image directory of a file. Every other page is decoded by
// presenting the decoder a view of the file whose header points at that
// page's directory.
package tiffstack

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"

	"github.com/claudiasc89/image-analysis-portfolio/internal/models"
)

// TIFF tags used when walking directories
const (
	tagImageWidth       = 256
	tagImageLength      = 257
	tagBitsPerSample    = 258
	tagCompression      = 259
	tagPhotometric      = 262
	tagImageDescription = 270
	tagStripOffsets     = 273
	tagSamplesPerPixel  = 277
	tagRowsPerStrip     = 278
	tagStripByteCounts  = 279
)

// TIFF field types
const (
	typeASCII = 2
	typeShort = 3
	typeLong  = 4
)

// maxPages bounds the directory walk so a corrupt chain cannot loop forever
const maxPages = 1 << 20

// Info describes the layout of a stack file.
type Info struct {
	// Pages is the number of image directories
	Pages int

	// Width and Height of every page
	Width  int
	Height int

	// ImageJ hyperstack dimensions; zero when the file carries no ImageJ
	// description
	Frames   int
	Slices   int
	Channels int
}

// Shape returns the axes of the stack in (T, Z, C, Y, X) order with
// singleton axes dropped. Files without ImageJ metadata are (pages, Y, X),
// or (Y, X) for a single page.
func (in Info) Shape() []int {
	var shape []int
	if in.Frames > 0 || in.Slices > 0 || in.Channels > 0 {
		for _, d := range []int{in.Frames, in.Slices, in.Channels} {
			if d > 1 {
				shape = append(shape, d)
			}
		}
	} else if in.Pages > 1 {
		shape = append(shape, in.Pages)
	}
	return append(shape, in.Height, in.Width)
}

// Read loads every page of the TIFF file at path into an array shaped as
// described by Info.Shape.
func Read(path string) (models.Array, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Array{}, fmt.Errorf("failed to open stack: %w", err)
	}
	defer f.Close()

	return Decode(f)
}

// Decode reads a stack from r.
func Decode(r io.ReaderAt) (models.Array, error) {
	order, offsets, err := readDirectories(r)
	if err != nil {
		return models.Array{}, err
	}

	info, err := readInfo(r, order, offsets)
	if err != nil {
		return models.Array{}, err
	}

	shape := info.Shape()
	pageSize := info.Width * info.Height
	data := make([]uint16, 0, info.Pages*pageSize)

	for i, off := range offsets {
		img, err := tiff.Decode(&pageReader{r: r, order: order, ifd: off})
		if err != nil {
			return models.Array{}, fmt.Errorf("failed to decode page %d: %w", i, err)
		}
		b := img.Bounds()
		if b.Dx() != info.Width || b.Dy() != info.Height {
			return models.Array{}, fmt.Errorf("page %d is %dx%d, expected %dx%d", i, b.Dx(), b.Dy(), info.Width, info.Height)
		}
		data = appendGray16(data, img)
	}

	arr := models.Array{Shape: shape, Data: data}
	if arr.NumElements() != len(data) {
		return models.Array{}, fmt.Errorf("ImageJ dimensions %v do not match %d pages", shape, info.Pages)
	}
	return arr, nil
}

// Stat returns the layout of the file at path without decoding pixels.
func Stat(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to open stack: %w", err)
	}
	defer f.Close()

	order, offsets, err := readDirectories(f)
	if err != nil {
		return Info{}, err
	}
	return readInfo(f, order, offsets)
}

// readDirectories parses the header and follows the directory chain
func readDirectories(r io.ReaderAt) (binary.ByteOrder, []uint32, error) {
	header := make([]byte, 8)
	if _, err := r.ReadAt(header, 0); err != nil {
		return nil, nil, fmt.Errorf("failed to read TIFF header: %w", err)
	}

	var order binary.ByteOrder
	switch {
	case header[0] == 'I' && header[1] == 'I':
		order = binary.LittleEndian
	case header[0] == 'M' && header[1] == 'M':
		order = binary.BigEndian
	default:
		return nil, nil, fmt.Errorf("not a valid TIFF file")
	}
	if order.Uint16(header[2:4]) != 42 {
		return nil, nil, fmt.Errorf("unsupported TIFF version %d", order.Uint16(header[2:4]))
	}

	var offsets []uint32
	seen := make(map[uint32]bool)
	next := order.Uint32(header[4:8])
	buf := make([]byte, 4)

	for next != 0 {
		if seen[next] || len(offsets) >= maxPages {
			return nil, nil, fmt.Errorf("corrupt directory chain at offset %d", next)
		}
		seen[next] = true
		offsets = append(offsets, next)

		if _, err := r.ReadAt(buf[:2], int64(next)); err != nil {
			return nil, nil, fmt.Errorf("failed to read directory %d: %w", len(offsets)-1, err)
		}
		entries := int64(order.Uint16(buf[:2]))
		if _, err := r.ReadAt(buf, int64(next)+2+entries*12); err != nil {
			return nil, nil, fmt.Errorf("failed to read directory %d: %w", len(offsets)-1, err)
		}
		next = order.Uint32(buf)
	}

	if len(offsets) == 0 {
		return nil, nil, fmt.Errorf("TIFF file has no images")
	}
	return order, offsets, nil
}

// readInfo reads the dimensions and ImageJ description from the first
// directory
func readInfo(r io.ReaderAt, order binary.ByteOrder, offsets []uint32) (Info, error) {
	info := Info{Pages: len(offsets)}

	buf := make([]byte, 2)
	if _, err := r.ReadAt(buf, int64(offsets[0])); err != nil {
		return Info{}, fmt.Errorf("failed to read first directory: %w", err)
	}
	n := int(order.Uint16(buf))

	entry := make([]byte, 12)
	for i := 0; i < n; i++ {
		if _, err := r.ReadAt(entry, int64(offsets[0])+2+int64(i)*12); err != nil {
			return Info{}, fmt.Errorf("failed to read directory entry: %w", err)
		}
		tag := order.Uint16(entry[0:2])
		typ := order.Uint16(entry[2:4])
		count := order.Uint32(entry[4:8])

		switch tag {
		case tagImageWidth:
			info.Width = int(entryValue(order, typ, entry[8:12]))
		case tagImageLength:
			info.Height = int(entryValue(order, typ, entry[8:12]))
		case tagImageDescription:
			if typ != typeASCII || count == 0 {
				continue
			}
			desc := make([]byte, count)
			if count <= 4 {
				copy(desc, entry[8:8+count])
			} else if _, err := r.ReadAt(desc, int64(order.Uint32(entry[8:12]))); err != nil {
				return Info{}, fmt.Errorf("failed to read image description: %w", err)
			}
			parseImageJ(strings.TrimRight(string(desc), "\x00"), &info)
		}
	}

	if info.Width < 1 || info.Height < 1 {
		return Info{}, fmt.Errorf("invalid page size %dx%d", info.Width, info.Height)
	}
	return info, nil
}

// entryValue decodes a SHORT or LONG value stored inline in an entry
func entryValue(order binary.ByteOrder, typ uint16, v []byte) uint32 {
	if typ == typeShort {
		return uint32(order.Uint16(v[0:2]))
	}
	return order.Uint32(v)
}

// parseImageJ extracts hyperstack dimensions from an ImageJ description.
// Other descriptions are ignored.
func parseImageJ(desc string, info *Info) {
	if !strings.HasPrefix(desc, "ImageJ=") {
		return
	}
	sc := bufio.NewScanner(strings.NewReader(desc))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			continue
		}
		switch key {
		case "frames":
			info.Frames = n
		case "slices":
			info.Slices = n
		case "channels":
			info.Channels = n
		}
	}
	// A plain ImageJ stack only lists images; treat it as slices.
	if info.Frames == 0 && info.Slices == 0 && info.Channels == 0 {
		info.Slices = info.Pages
	}
}

// appendGray16 appends the pixels of img in row-major order
func appendGray16(dst []uint16, img image.Image) []uint16 {
	b := img.Bounds()
	switch im := img.(type) {
	case *image.Gray16:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				dst = append(dst, im.Gray16At(x, y).Y)
			}
		}
	case *image.Gray:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				dst = append(dst, uint16(im.GrayAt(x, y).Y))
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				dst = append(dst, color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y)
			}
		}
	}
	return dst
}

// pageReader exposes the underlying file with the first-directory offset
// in the header replaced by ifd.
type pageReader struct {
	r     io.ReaderAt
	order binary.ByteOrder
	ifd   uint32
	pos   int64
}

// ReadAt implements io.ReaderAt.
func (p *pageReader) ReadAt(b []byte, off int64) (int, error) {
	n, err := p.r.ReadAt(b, off)
	// patch whatever part of header bytes 4..8 was read
	if off < 8 && off+int64(n) > 4 {
		var hdr [4]byte
		p.order.PutUint32(hdr[:], p.ifd)
		for i := int64(4); i < 8; i++ {
			if i >= off && i < off+int64(n) {
				b[i-off] = hdr[i-4]
			}
		}
	}
	return n, err
}

// Read implements io.Reader.
func (p *pageReader) Read(b []byte) (int, error) {
	n, err := p.ReadAt(b, p.pos)
	p.pos += int64(n)
	return n, err
}
