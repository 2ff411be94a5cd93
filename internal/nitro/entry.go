package nitro

import (
	"iter"
	"slices"
	"strings"
)

// Kind is the kind of an [Entry].
type Kind uint8

const (
	// KindFile is a regular file, backed by a FAT range.
	KindFile Kind = iota

	// KindDir is a directory, backed by an FNT sub-table.
	KindDir
)

func (k Kind) String() string {
	if k == KindDir {
		return "dir"
	}

	return "file"
}

// Entry is one node (file or directory) of a [Tree].
// It is immutable once the [Tree] was built.
type Entry struct {
	id       uint16   // FAT index (file) or marked FNT index (directory).
	kind     Kind     // File or directory.
	name     string   // Name as stored in the FNT (raw bytes).
	size     uint32   // Data size (file) or synthetic listing size (directory).
	links    uint32   // 2, plus one per child directory.
	parent   *Entry   // Parent directory (the root is its own parent).
	children []*Entry // Children in FNT order (directories only).
}

func newDir(id uint16, parent *Entry, name string) *Entry {
	return &Entry{
		id:     id,
		kind:   KindDir,
		name:   name,
		links:  2, //nolint:mnd
		parent: parent,
	}
}

func newFile(id uint16, parent *Entry, name string, size uint32) *Entry {
	return &Entry{
		id:     id,
		kind:   KindFile,
		name:   name,
		size:   size,
		links:  2, //nolint:mnd
		parent: parent,
	}
}

// ID returns the NitroFS id of the entry.
func (e *Entry) ID() uint16 {
	return e.id
}

// Kind returns the kind of the entry.
func (e *Entry) Kind() Kind {
	return e.kind
}

// IsDir returns true if the entry is a directory.
func (e *Entry) IsDir() bool {
	return e.kind == KindDir
}

// Name returns the name of the entry (empty for the root).
func (e *Entry) Name() string {
	return e.name
}

// Size returns the byte size of a file, or the synthetic size of a
// directory (the encoded length of its direct children in the FNT).
func (e *Entry) Size() uint32 {
	return e.size
}

// Links returns the link count of the entry.
func (e *Entry) Links() uint32 {
	return e.links
}

// Parent returns the parent directory; the root returns itself.
func (e *Entry) Parent() *Entry {
	return e.parent
}

// IsRoot returns true if the entry is the root directory.
func (e *Entry) IsRoot() bool {
	return e.parent == e
}

// Inode returns the synthesized inode number of the entry.
func (e *Entry) Inode() uint64 {
	return uint64(e.parent.id)<<8 | uint64(e.id)
}

// NumChildren returns the number of direct children.
func (e *Entry) NumChildren() int {
	return len(e.children)
}

// ChildAt returns the i-th direct child in FNT order.
func (e *Entry) ChildAt(i int) (*Entry, bool) {
	if i < 0 || i >= len(e.children) {
		return nil, false
	}

	return e.children[i], true
}

// Children returns an iterator over the direct children in FNT order.
func (e *Entry) Children() iter.Seq[*Entry] {
	return slices.Values(e.children)
}

// Lookup returns the direct child with the exact (byte-wise) name.
func (e *Entry) Lookup(name string) (*Entry, bool) {
	for _, c := range e.children {
		if c.name == name {
			return c, true
		}
	}

	return nil, false
}

// Path returns the slash-separated path from the root to the entry.
func (e *Entry) Path() string {
	if e.IsRoot() {
		return "/"
	}

	var parts []string
	for n := e; !n.IsRoot(); n = n.parent {
		parts = append(parts, n.name)
	}
	slices.Reverse(parts)

	return "/" + strings.Join(parts, "/")
}
