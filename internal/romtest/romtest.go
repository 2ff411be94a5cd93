// Package romtest synthesizes NitroFS ROM images for use in tests.
package romtest

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/desertwitch/nitrofuse/internal/image"
)

const (
	// DefaultFNTOffset is where [Builder] places the FNT.
	DefaultFNTOffset = 0x200

	dirMarker = 0xF000
	alignment = 4
)

// Dir is a directory under construction within a [Builder].
type Dir struct {
	name     string
	children []any // *Dir or *File

	id     uint16
	nextID uint16
	parent *Dir
}

// File is a file under construction within a [Builder].
type File struct {
	name string
	data []byte
	id   uint16
}

// Dir adds a subdirectory with the given name and returns it.
func (d *Dir) Dir(name string) *Dir {
	sub := &Dir{name: name, parent: d}
	d.children = append(d.children, sub)

	return sub
}

// File adds a file with the given name and contents and returns d.
func (d *Dir) File(name string, data []byte) *Dir {
	d.children = append(d.children, &File{name: name, data: data})

	return d
}

// Builder lays out a NitroFS container the way common ROM tools do:
// the FNT main table followed by every sub-table (in directory id order),
// then the FAT, then the file data.
//
// Directory ids are assigned in depth-first order. The files of every
// directory get consecutive ids, assigned when the directory is entered.
type Builder struct {
	root      *Dir
	fntOffset uint32
}

// New returns a pointer to a new [Builder] with an empty root.
func New() *Builder {
	return &Builder{
		root:      &Dir{},
		fntOffset: DefaultFNTOffset,
	}
}

// Root returns the root directory.
func (b *Builder) Root() *Dir {
	return b.root
}

// ROM is a built NitroFS ROM image, along with its layout.
type ROM struct {
	Data []byte

	FNTOffset uint32
	FNTLength uint32
	FATOffset uint32
	FATLength uint32

	// Dirs maps directory paths ("/" for the root) to directory ids.
	Dirs map[string]uint16

	// Files maps file paths to file ids.
	Files map[string]uint16

	// SubTables maps directory paths to absolute sub-table offsets.
	SubTables map[string]uint32

	// Contents maps file paths to file contents.
	Contents map[string][]byte
}

// Build lays out the ROM image.
func (b *Builder) Build() *ROM {
	rom := &ROM{
		FNTOffset: b.fntOffset,
		Dirs:      make(map[string]uint16),
		Files:     make(map[string]uint16),
		SubTables: make(map[string]uint32),
		Contents:  make(map[string][]byte),
	}

	var dirs []*Dir
	var files []*File
	var paths []string

	var assign func(d *Dir, path string)
	assign = func(d *Dir, path string) {
		d.id = dirMarker | uint16(len(dirs))
		d.nextID = uint16(len(files))
		dirs = append(dirs, d)
		paths = append(paths, path)
		rom.Dirs[path] = d.id

		for _, c := range d.children {
			if f, ok := c.(*File); ok {
				f.id = uint16(len(files))
				files = append(files, f)
				rom.Files[join(path, f.name)] = f.id
				rom.Contents[join(path, f.name)] = f.data
			}
		}
		for _, c := range d.children {
			if sub, ok := c.(*Dir); ok {
				assign(sub, join(path, sub.name))
			}
		}
	}
	assign(b.root, "/")

	fnt := make([]byte, len(dirs)*8) //nolint:mnd
	for i, d := range dirs {
		parentID := uint16(len(dirs))
		if d.parent != nil {
			parentID = d.parent.id
		}

		rom.SubTables[paths[i]] = b.fntOffset + uint32(len(fnt))
		binary.LittleEndian.PutUint32(fnt[i*8:], uint32(len(fnt)))
		binary.LittleEndian.PutUint16(fnt[i*8+4:], d.nextID)
		binary.LittleEndian.PutUint16(fnt[i*8+6:], parentID)

		for _, c := range d.children {
			switch v := c.(type) {
			case *File:
				fnt = append(fnt, byte(len(v.name)))
				fnt = append(fnt, v.name...)
			case *Dir:
				fnt = append(fnt, 0x80|byte(len(v.name))) //nolint:mnd
				fnt = append(fnt, v.name...)
				fnt = binary.LittleEndian.AppendUint16(fnt, v.id)
			}
		}
		fnt = append(fnt, 0x00)
	}
	rom.FNTLength = uint32(len(fnt))

	rom.FATOffset = align(rom.FNTOffset + rom.FNTLength)
	rom.FATLength = uint32(len(files) * 8) //nolint:mnd

	dataOffset := align(rom.FATOffset + rom.FATLength)
	fat := make([]byte, rom.FATLength)
	var data []byte

	for i, f := range files {
		start := dataOffset + uint32(len(data))
		end := start + uint32(len(f.data))
		binary.LittleEndian.PutUint32(fat[i*8:], start)
		binary.LittleEndian.PutUint32(fat[i*8+4:], end)

		data = append(data, f.data...)
		for len(data)%alignment != 0 {
			data = append(data, 0xFF) //nolint:mnd
		}
	}

	rom.Data = make([]byte, int(dataOffset)+len(data))
	binary.LittleEndian.PutUint32(rom.Data[0x40:], rom.FNTOffset)
	binary.LittleEndian.PutUint32(rom.Data[0x44:], rom.FNTLength)
	binary.LittleEndian.PutUint32(rom.Data[0x48:], rom.FATOffset)
	binary.LittleEndian.PutUint32(rom.Data[0x4C:], rom.FATLength)
	copy(rom.Data[rom.FNTOffset:], fnt)
	copy(rom.Data[rom.FATOffset:], fat)
	copy(rom.Data[dataOffset:], data)

	return rom
}

// Image returns an in-memory [image.Image] over the ROM data.
func (r *ROM) Image(t time.Time) *image.Image {
	return image.FromBytes(r.Data, t)
}

// PutUint16 overwrites the 16-bit value at the absolute offset off.
func (r *ROM) PutUint16(off uint32, v uint16) {
	binary.LittleEndian.PutUint16(r.Data[off:], v)
}

// PutUint32 overwrites the 32-bit value at the absolute offset off.
func (r *ROM) PutUint32(off uint32, v uint32) {
	binary.LittleEndian.PutUint32(r.Data[off:], v)
}

// SetFAT overwrites the FAT row of the file with id.
func (r *ROM) SetFAT(id uint16, start, end uint32) {
	r.PutUint32(r.FATOffset+uint32(id)*8, start)   //nolint:mnd
	r.PutUint32(r.FATOffset+uint32(id)*8+4, end) //nolint:mnd
}

// WriteFile writes the ROM data into a file inside dir and returns its path.
func (r *ROM) WriteFile(t *testing.T, dir string, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, r.Data, 0o644); err != nil { //nolint:gosec,mnd
		t.Fatalf("failed to write rom: %v", err)
	}

	return path
}

// Sample returns a [Builder] with a small, typical game ROM layout.
func Sample() *Builder {
	b := New()

	root := b.Root()
	root.File("banner.bin", []byte("BANNER"))
	root.File("readme.txt", []byte("hello from nitrofs\n"))

	data := root.Dir("data")
	data.File("level1.bin", []byte{0x01, 0x02, 0x03, 0x04, 0x05})
	data.File("empty.bin", nil)
	sound := data.Dir("sound")
	sound.File("bgm.sseq", []byte("SSEQ-music"))

	root.Dir("empty")

	return b
}

func join(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}

	return dir + "/" + name
}

func align(v uint32) uint32 {
	return (v + alignment - 1) &^ (alignment - 1)
}
