package tiffstack

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/claudiasc89/image-analysis-portfolio/internal/models"
)

// entriesPerPage is the number of directory entries written for each page
const entriesPerPage = 10

// Write saves the stack at path as an uncompressed 16-bit ImageJ hyperstack
// with one page per timepoint.
func Write(path string, stack models.Stack) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create stack file: %w", err)
	}

	if err := Encode(f, stack); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteAcquisition saves acq at path as an ImageJ hyperstack with frames
// and slices, the layout Read expects for a time-resolved Z stack.
func WriteAcquisition(path string, acq models.Acquisition) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create stack file: %w", err)
	}

	pageSize := acq.Height * acq.Width
	pages := make([][]uint16, 0, acq.T*acq.Z)
	for i := 0; i < acq.T*acq.Z; i++ {
		pages = append(pages, acq.Data[i*pageSize:(i+1)*pageSize])
	}
	desc := fmt.Sprintf("ImageJ=1.11a\nimages=%d\nslices=%d\nframes=%d\nhyperstack=true\n", acq.T*acq.Z, acq.Z, acq.T)

	if err := encodePages(f, pages, acq.Width, acq.Height, desc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Encode writes the stack to w in little-endian byte order.
func Encode(w io.Writer, stack models.Stack) error {
	if stack.Len() == 0 {
		return fmt.Errorf("cannot write an empty stack")
	}
	pages := make([][]uint16, stack.Len())
	for i, p := range stack.Planes {
		pages[i] = p.Data
	}
	return encodePages(w, pages, stack.Width, stack.Height, imageJDescription(stack.Len()))
}

// encodePages writes uncompressed 16-bit pages.
//
// Layout: header, description, then for each page its pixel strip
// followed by its directory.
func encodePages(w io.Writer, pages [][]uint16, width, height int, description string) error {
	if len(pages) == 0 {
		return fmt.Errorf("cannot write a stack without pages")
	}
	if width < 1 || height < 1 {
		return fmt.Errorf("invalid plane size %dx%d", width, height)
	}

	desc := []byte(description)
	desc = append(desc, 0)
	if len(desc)%2 == 1 {
		desc = append(desc, 0)
	}

	stripBytes := uint64(width) * uint64(height) * 2
	ifdBytes := uint64(2 + entriesPerPage*12 + 4)
	total := 8 + uint64(len(desc)) + uint64(len(pages))*(stripBytes+ifdBytes)
	if total > math.MaxUint32 {
		return fmt.Errorf("stack of %d bytes exceeds the classic TIFF limit", total)
	}

	bw := bufio.NewWriter(w)
	le := binary.LittleEndian

	descOffset := uint32(8)
	offset := descOffset + uint32(len(desc))
	firstIFD := offset + uint32(stripBytes)

	header := make([]byte, 8)
	header[0], header[1] = 'I', 'I'
	le.PutUint16(header[2:4], 42)
	le.PutUint32(header[4:8], firstIFD)
	if _, err := bw.Write(header); err != nil {
		return err
	}
	if _, err := bw.Write(desc); err != nil {
		return err
	}

	strip := make([]byte, stripBytes)
	for i, page := range pages {
		if len(page) != width*height {
			return fmt.Errorf("page %d has %d pixels, expected %d", i, len(page), width*height)
		}
		for j, px := range page {
			le.PutUint16(strip[2*j:], px)
		}
		if _, err := bw.Write(strip); err != nil {
			return err
		}

		stripOffset := offset
		ifdOffset := stripOffset + uint32(stripBytes)
		next := uint32(0)
		if i < len(pages)-1 {
			next = ifdOffset + uint32(ifdBytes) + uint32(stripBytes)
		}

		entries := []ifdEntry{
			{tag: tagImageWidth, typ: typeLong, count: 1, value: uint32(width)},
			{tag: tagImageLength, typ: typeLong, count: 1, value: uint32(height)},
			{tag: tagBitsPerSample, typ: typeShort, count: 1, value: 16},
			{tag: tagCompression, typ: typeShort, count: 1, value: 1},
			{tag: tagPhotometric, typ: typeShort, count: 1, value: 1},
			{tag: tagImageDescription, typ: typeASCII, count: uint32(len(desc)), value: descOffset},
			{tag: tagStripOffsets, typ: typeLong, count: 1, value: stripOffset},
			{tag: tagSamplesPerPixel, typ: typeShort, count: 1, value: 1},
			{tag: tagRowsPerStrip, typ: typeLong, count: 1, value: uint32(height)},
			{tag: tagStripByteCounts, typ: typeLong, count: 1, value: uint32(stripBytes)},
		}
		if err := writeIFD(bw, entries, next); err != nil {
			return err
		}

		offset = ifdOffset + uint32(ifdBytes)
	}

	return bw.Flush()
}

// ifdEntry is one directory entry whose value fits in four bytes or is an
// offset
type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	value uint32
}

// writeIFD writes a directory with entries sorted by tag
func writeIFD(w io.Writer, entries []ifdEntry, next uint32) error {
	le := binary.LittleEndian
	buf := make([]byte, 2+len(entries)*12+4)

	le.PutUint16(buf[0:2], uint16(len(entries)))
	for i, e := range entries {
		b := buf[2+i*12:]
		le.PutUint16(b[0:2], e.tag)
		le.PutUint16(b[2:4], e.typ)
		le.PutUint32(b[4:8], e.count)
		// little-endian SHORT values sit in the low bytes of the field
		le.PutUint32(b[8:12], e.value)
	}
	le.PutUint32(buf[len(buf)-4:], next)

	_, err := w.Write(buf)
	return err
}

// imageJDescription describes a time series of single planes
func imageJDescription(frames int) string {
	return fmt.Sprintf("ImageJ=1.11a\nimages=%d\nframes=%d\n", frames, frames)
}
