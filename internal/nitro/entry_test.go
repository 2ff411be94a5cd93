package nitro

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Expectation: Inode should combine the parent id and the entry id.
func Test_Entry_Inode_Success(t *testing.T) {
	t.Parallel()

	tree, rom := sampleTree(t)

	require.Equal(t, uint64(0xF000)<<8|0xF000, tree.Root().Inode())

	e, ok := tree.Resolve("/data/level1.bin")
	require.True(t, ok)
	require.Equal(t, uint64(rom.Dirs["/data"])<<8|uint64(rom.Files["/data/level1.bin"]), e.Inode())

	d, ok := tree.Resolve("/data/sound")
	require.True(t, ok)
	require.Equal(t, uint64(0xF001)<<8|0xF002, d.Inode())
}

// Expectation: The root should be its own parent and have an empty name.
func Test_Entry_Root_Success(t *testing.T) {
	t.Parallel()

	tree, _ := sampleTree(t)

	root := tree.Root()
	require.True(t, root.IsRoot())
	require.Same(t, root, root.Parent())
	require.Empty(t, root.Name())
	require.Equal(t, "/", root.Path())
	require.Equal(t, "dir", root.Kind().String())

	for c := range root.Children() {
		require.False(t, c.IsRoot())
		require.Same(t, root, c.Parent())
	}
}

// Expectation: ChildAt should return children in order and reject bad indices.
func Test_Entry_ChildAt_Success(t *testing.T) {
	t.Parallel()

	tree, _ := sampleTree(t)

	root := tree.Root()
	require.Equal(t, 4, root.NumChildren())

	c, ok := root.ChildAt(2)
	require.True(t, ok)
	require.Equal(t, "data", c.Name())

	_, ok = root.ChildAt(-1)
	require.False(t, ok)

	_, ok = root.ChildAt(4)
	require.False(t, ok)
}

// Expectation: Lookup should match names exactly.
func Test_Entry_Lookup_Success(t *testing.T) {
	t.Parallel()

	tree, _ := sampleTree(t)

	e, ok := tree.Root().Lookup("readme.txt")
	require.True(t, ok)
	require.Equal(t, KindFile, e.Kind())
	require.Equal(t, "file", e.Kind().String())

	_, ok = tree.Root().Lookup("README.TXT")
	require.False(t, ok)

	_, ok = tree.Root().Lookup("readme")
	require.False(t, ok)

	f, ok := tree.Resolve("/readme.txt")
	require.True(t, ok)
	_, ok = f.Lookup("x")
	require.False(t, ok)
}
