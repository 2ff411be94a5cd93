package nitro

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// Tree is the immutable directory tree decoded from a NitroFS container.
type Tree struct {
	root   *Entry
	tables *Tables
	stats  Stats
}

// Stats holds the totals collected while building a [Tree].
type Stats struct {
	Dirs      int    // Directories, including the root.
	Files     int    // Files.
	FileBytes uint64 // Sum of all file sizes.
	MaxDepth  int    // Deepest directory nesting below the root.
}

// Root returns the root directory.
func (t *Tree) Root() *Entry {
	return t.root
}

// Tables returns the table decoder the tree was built with.
func (t *Tree) Tables() *Tables {
	return t.tables
}

// Stats returns the totals of the tree.
func (t *Tree) Stats() Stats {
	return t.stats
}

// FAT returns the FAT row backing the file entry e.
func (t *Tree) FAT(e *Entry) (FATEntry, error) {
	if e.IsDir() {
		return FATEntry{}, fmt.Errorf("%w: %q is a directory", ErrMalformedTable, e.name)
	}

	return t.tables.FAT(e.id)
}

// Resolve returns the entry at the slash-separated path. A path of "/"
// is the root; components are matched byte-wise against the children
// of each directory, without any special meaning of "." or "..".
func (t *Tree) Resolve(path string) (*Entry, bool) {
	if path == "/" {
		return t.root, true
	}

	dir := t.root
	components := strings.Split(strings.TrimPrefix(path, "/"), "/")

	for _, name := range components[:len(components)-1] {
		next, ok := dir.Lookup(name)
		if !ok {
			return nil, false
		}
		dir = next
	}

	return dir.Lookup(components[len(components)-1])
}

// WalkFunc gets called on each visited [Entry] as part of a [Tree.Walk].
// Returning [fs.SkipDir] for a directory skips its children.
type WalkFunc func(path string, e *Entry) error

// Walk visits the root and then all entries depth-first, in FNT order.
func (t *Tree) Walk(walkFn WalkFunc) error {
	return t.WalkFrom(t.root, walkFn)
}

// WalkFrom is like Walk, but visits only e and the entries below it.
func (t *Tree) WalkFrom(e *Entry, walkFn WalkFunc) error {
	err := walkEntry(e.Path(), e, walkFn)
	if errors.Is(err, fs.SkipDir) {
		return nil
	}

	return err
}

func walkEntry(path string, e *Entry, walkFn WalkFunc) error {
	if err := walkFn(path, e); err != nil {
		return err
	}

	for _, c := range e.children {
		childPath := path
		if path != "/" {
			childPath += "/"
		}
		childPath += c.name

		if err := walkEntry(childPath, c, walkFn); err != nil {
			if errors.Is(err, fs.SkipDir) && c.IsDir() {
				continue
			}

			return err
		}
	}

	return nil
}
