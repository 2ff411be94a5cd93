// Package nitro decodes the NitroFS tables of a ROM image into a tree.
//
// A NitroFS container consists of two tables whose locations are found in
// the ROM header: the File Name Table (FNT), which maps directory ids to
// the names and ids of their children, and the File Allocation Table (FAT),
// which maps file ids to byte ranges within the ROM image. Both are decoded
// once into an immutable [Tree] of [Entry] nodes, which is then safe for
// concurrent use by any number of readers.
package nitro

import (
	"errors"
	"fmt"

	"github.com/desertwitch/nitrofuse/internal/image"
)

const (
	headerFNTOffset = 0x40
	headerFNTLength = 0x44
	headerFATOffset = 0x48
	headerFATLength = 0x4C

	// RootID is the directory id of the root directory.
	RootID uint16 = 0xF000

	dirMarker = 0xF000
	dirMask   = 0x0FFF

	fntMainSize  = 8 // offset u32, next_id u16, parent_id u16
	fatEntrySize = 8 // start u32, end u32

	nameLenMask = 0x7F
	dirFlag     = 0x80
)

var (
	// ErrOutOfBounds occurs when a decode read would exceed the image length.
	ErrOutOfBounds = image.ErrOutOfBounds

	// ErrMalformedTable occurs when a table record is structurally inconsistent.
	ErrMalformedTable = errors.New("malformed table")

	// ErrTooDeep occurs when directories nest deeper than allowed.
	ErrTooDeep = fmt.Errorf("%w: directory nesting too deep", ErrMalformedTable)
)

// View is a read-only, bounds-checked byte view of a ROM image.
// Every accessor must fail with [ErrOutOfBounds] instead of reading
// past the end of the image.
type View interface {
	Len() int64
	Uint8(off int64) (uint8, error)
	Uint16(off int64) (uint16, error)
	Uint32(off int64) (uint32, error)
	Bytes(off, n int64) ([]byte, error)
}

// Header holds the table locations stored within the ROM header.
type Header struct {
	FNTOffset uint32
	FNTLength uint32
	FATOffset uint32
	FATLength uint32
}

// ReadHeader decodes the table locations from the ROM header.
// No other header field is validated.
func ReadHeader(v View) (Header, error) {
	var hdr Header

	fields := []struct {
		off int64
		dst *uint32
	}{
		{headerFNTOffset, &hdr.FNTOffset},
		{headerFNTLength, &hdr.FNTLength},
		{headerFATOffset, &hdr.FATOffset},
		{headerFATLength, &hdr.FATLength},
	}

	for _, f := range fields {
		val, err := v.Uint32(f.off)
		if err != nil {
			return Header{}, fmt.Errorf("header field at %#x: %w", f.off, err)
		}
		*f.dst = val
	}

	return hdr, nil
}

// IsDirID returns true if id carries the directory marker.
func IsDirID(id uint16) bool {
	return id&dirMarker == dirMarker
}
