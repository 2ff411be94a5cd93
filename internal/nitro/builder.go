package nitro

import (
	"fmt"
)

// DefaultMaxDepth is the default bound for directory nesting below the root.
const DefaultMaxDepth = 128

// BuildOptions control the construction of a [Tree].
type BuildOptions struct {
	// MaxDepth bounds the directory nesting below the root, so that
	// adversarial images cannot exhaust the stack (<= 0 is the default).
	MaxDepth int
}

type builder struct {
	view     View
	tables   *Tables
	maxDepth int
	seen     map[uint16]struct{}
	stats    Stats
}

// Build decodes the ROM header of v and then builds the [Tree].
func Build(v View, opts BuildOptions) (*Tree, error) {
	hdr, err := ReadHeader(v)
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	return BuildWithHeader(v, hdr, opts)
}

// BuildWithHeader builds the [Tree] from the tables located by hdr.
//
// Any failure aborts the entire build, no partial tree is ever returned.
// The returned errors wrap either [ErrOutOfBounds] or [ErrMalformedTable].
func BuildWithHeader(v View, hdr Header, opts BuildOptions) (*Tree, error) {
	b := &builder{
		view:     v,
		tables:   NewTables(v, hdr),
		maxDepth: opts.MaxDepth,
		seen:     map[uint16]struct{}{RootID: {}},
	}
	if b.maxDepth <= 0 {
		b.maxDepth = DefaultMaxDepth
	}

	root := newDir(RootID, nil, "")
	root.parent = root

	main, err := b.tables.FNTMain(RootID)
	if err != nil {
		return nil, fmt.Errorf("failed to read root: %w", err)
	}

	b.stats.Dirs = 1
	if err := b.fill(root, main, 0); err != nil {
		return nil, err
	}

	return &Tree{
		root:   root,
		tables: b.tables,
		stats:  b.stats,
	}, nil
}

// fill populates the children of dir from its FNT sub-table, recursing into
// every child directory as it is encountered. File ids are assigned in the
// order of discovery, starting at the next id of the directory's main entry.
func (b *builder) fill(dir *Entry, main FNTMainEntry, depth int) error {
	b.stats.MaxDepth = max(b.stats.MaxDepth, depth)

	cursor := int64(b.tables.hdr.FNTOffset) + int64(main.SubOffset)
	nextID := main.NextID

	for {
		ctrl, err := b.view.Uint8(cursor)
		if err != nil {
			return fmt.Errorf("directory %#04x: control byte at %#x: %w", dir.id, cursor, err)
		}
		if ctrl == 0 {
			return nil
		}

		nameLen := int64(ctrl & nameLenMask)
		if nameLen == 0 {
			return fmt.Errorf("%w: directory %#04x: empty name at %#x", ErrMalformedTable, dir.id, cursor)
		}

		name, err := b.view.Bytes(cursor+1, nameLen)
		if err != nil {
			return fmt.Errorf("directory %#04x: name at %#x: %w", dir.id, cursor+1, err)
		}

		var child *Entry

		if ctrl&dirFlag != 0 {
			child, err = b.subdir(dir, string(name), cursor+1+nameLen, depth)
			if err != nil {
				return err
			}

			dir.links++
			dir.size += uint32(nameLen) + 3 //nolint:mnd
			cursor += 1 + nameLen + 2       //nolint:mnd
		} else {
			fat, err := b.tables.FAT(nextID)
			if err != nil {
				return fmt.Errorf("directory %#04x: file %q: %w", dir.id, name, err)
			}
			child = newFile(nextID, dir, string(name), fat.Size())
			nextID++

			b.stats.Files++
			b.stats.FileBytes += uint64(fat.Size())

			dir.size += uint32(nameLen) + 1
			cursor += 1 + nameLen
		}

		dir.children = append(dir.children, child)
	}
}

// subdir builds the child directory of parent whose id is stored at idOffset.
func (b *builder) subdir(parent *Entry, name string, idOffset int64, depth int) (*Entry, error) {
	id, err := b.view.Uint16(idOffset)
	if err != nil {
		return nil, fmt.Errorf("directory %#04x: id of %q: %w", parent.id, name, err)
	}

	if depth+1 > b.maxDepth {
		return nil, fmt.Errorf("%w: %q exceeds %d levels", ErrTooDeep, name, b.maxDepth)
	}
	if _, ok := b.seen[id]; ok {
		return nil, fmt.Errorf("%w: directory %#04x is referenced more than once (at %q)",
			ErrMalformedTable, id, name)
	}
	b.seen[id] = struct{}{}

	main, err := b.tables.FNTMain(id)
	if err != nil {
		return nil, fmt.Errorf("directory %#04x: %q: %w", parent.id, name, err)
	}

	child := newDir(id, parent, name)
	b.stats.Dirs++

	if err := b.fill(child, main, depth+1); err != nil {
		return nil, err
	}

	return child, nil
}
