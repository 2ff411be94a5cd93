package nitro

import (
	"fmt"
)

// FNTMainEntry is one row of the FNT main table (one per directory).
type FNTMainEntry struct {
	SubOffset uint32 // Offset of the sub-table, relative to the FNT.
	NextID    uint16 // File id of the first file within the directory.
	ParentID  uint16 // Directory id of the parent (directory count for root).
}

// FATEntry is one row of the FAT (one per file).
type FATEntry struct {
	Start uint32 // Data start offset within the image (inclusive).
	End   uint32 // Data end offset within the image (exclusive).
}

// Size returns the size of the file data in bytes.
func (f FATEntry) Size() uint32 {
	return f.End - f.Start
}

// Tables decodes fixed-layout records out of the NitroFS tables.
type Tables struct {
	view View
	hdr  Header
}

// NewTables returns a pointer to new [Tables] over v, located by hdr.
func NewTables(v View, hdr Header) *Tables {
	return &Tables{view: v, hdr: hdr}
}

// Header returns the table locations.
func (t *Tables) Header() Header {
	return t.hdr
}

// FNTMain returns the FNT main-table row of the directory with dirID.
// The id must carry the directory marker and its row must lie within the FNT.
func (t *Tables) FNTMain(dirID uint16) (FNTMainEntry, error) {
	if !IsDirID(dirID) {
		return FNTMainEntry{}, fmt.Errorf("%w: %#04x is not a directory id", ErrMalformedTable, dirID)
	}

	rel := int64(dirID&dirMask) * fntMainSize
	if rel+fntMainSize > int64(t.hdr.FNTLength) {
		return FNTMainEntry{}, fmt.Errorf("%w: directory %#04x has no main-table row (fnt length %#x)",
			ErrMalformedTable, dirID, t.hdr.FNTLength)
	}
	off := int64(t.hdr.FNTOffset) + rel

	subOffset, err := t.view.Uint32(off)
	if err != nil {
		return FNTMainEntry{}, fmt.Errorf("main-table row of %#04x: %w", dirID, err)
	}
	nextID, err := t.view.Uint16(off + 4) //nolint:mnd
	if err != nil {
		return FNTMainEntry{}, fmt.Errorf("main-table row of %#04x: %w", dirID, err)
	}
	parentID, err := t.view.Uint16(off + 6) //nolint:mnd
	if err != nil {
		return FNTMainEntry{}, fmt.Errorf("main-table row of %#04x: %w", dirID, err)
	}

	return FNTMainEntry{
		SubOffset: subOffset,
		NextID:    nextID,
		ParentID:  parentID,
	}, nil
}

// FAT returns the FAT row of the file with fileID.
// The row must lie within the FAT and must not end before it starts.
func (t *Tables) FAT(fileID uint16) (FATEntry, error) {
	if IsDirID(fileID) {
		return FATEntry{}, fmt.Errorf("%w: %#04x is not a file id", ErrMalformedTable, fileID)
	}

	rel := int64(fileID) * fatEntrySize
	if rel+fatEntrySize > int64(t.hdr.FATLength) {
		return FATEntry{}, fmt.Errorf("%w: file %d has no FAT row (fat length %#x)",
			ErrMalformedTable, fileID, t.hdr.FATLength)
	}
	off := int64(t.hdr.FATOffset) + rel

	start, err := t.view.Uint32(off)
	if err != nil {
		return FATEntry{}, fmt.Errorf("FAT row of file %d: %w", fileID, err)
	}
	end, err := t.view.Uint32(off + 4) //nolint:mnd
	if err != nil {
		return FATEntry{}, fmt.Errorf("FAT row of file %d: %w", fileID, err)
	}

	if end < start {
		return FATEntry{}, fmt.Errorf("%w: file %d ends (%#x) before it starts (%#x)",
			ErrMalformedTable, fileID, end, start)
	}

	return FATEntry{Start: start, End: end}, nil
}
