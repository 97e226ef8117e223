package tree_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/shuttle/internal/tree"
)

func setupTestTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "sub", "deep"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dst"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "b.txt"), []byte("world!"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "sub", "c.txt"), []byte("nested"), 0o644))
	require.NoError(t, os.Symlink("a.txt", filepath.Join(root, "src", "link")))

	return root
}

func TestLocal_FolderResolution(t *testing.T) {
	t.Parallel()
	root := setupTestTree(t)
	p := tree.NewLocal(root, nil)
	ctx := context.Background()

	f, err := p.Folder(ctx, "/src/")
	require.NoError(t, err)
	assert.Equal(t, "src", f.ID())
	assert.Equal(t, "src", f.Name())
	assert.Contains(t, f.URL(), "file://")

	_, err = p.Folder(ctx, "missing")
	require.ErrorIs(t, err, tree.ErrNotFound)

	_, err = p.Folder(ctx, "src/a.txt")
	require.ErrorIs(t, err, tree.ErrNotFound)
}

func TestLocal_ListingSkipsSymlinks(t *testing.T) {
	t.Parallel()
	root := setupTestTree(t)
	p := tree.NewLocal(root, nil)
	ctx := context.Background()

	src, err := p.Folder(ctx, "src")
	require.NoError(t, err)

	var files []string
	for f, err := range src.Files(ctx) {
		require.NoError(t, err)
		files = append(files, f.Name())
	}
	slices.Sort(files)
	assert.Equal(t, []string{"a.txt", "b.txt"}, files)

	var folders []string
	for f, err := range src.Subfolders(ctx) {
		require.NoError(t, err)
		folders = append(folders, f.ID())
	}
	assert.Equal(t, []string{"src/sub"}, folders)
}

func TestLocal_FindAndCreate(t *testing.T) {
	t.Parallel()
	root := setupTestTree(t)
	p := tree.NewLocal(root, nil)
	ctx := context.Background()

	src, err := p.Folder(ctx, "src")
	require.NoError(t, err)

	file, ok, err := src.FindFile(ctx, "a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(5), file.Size())

	// A folder is not a file and vice versa.
	_, ok, err = src.FindFile(ctx, "sub")
	require.NoError(t, err)
	assert.False(t, ok)

	sub, ok, err := src.FindFolder(ctx, "sub")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "src/sub", sub.ID())

	_, ok, err = src.FindFolder(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	created, err := src.CreateFolder(ctx, "new")
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(root, "src", "new"))
	assert.Equal(t, "src/new", created.ID())

	// Creating an existing folder fails.
	_, err = src.CreateFolder(ctx, "new")
	require.Error(t, err)

	_, err = src.CreateFolder(ctx, "../escape")
	require.Error(t, err)
}

func TestLocal_CopyInto(t *testing.T) {
	t.Parallel()
	root := setupTestTree(t)
	p := tree.NewLocal(root, tree.NewBWLimiter(1<<20))
	ctx := context.Background()

	src, err := p.Folder(ctx, "src")
	require.NoError(t, err)
	dst, err := p.Folder(ctx, "dst")
	require.NoError(t, err)

	file, ok, err := src.FindFile(ctx, "b.txt")
	require.NoError(t, err)
	require.True(t, ok)

	copied, err := file.CopyInto(ctx, dst, "b.txt")
	require.NoError(t, err)
	assert.Equal(t, "dst/b.txt", copied.ID())
	assert.Equal(t, int64(6), copied.Size())

	data, err := os.ReadFile(filepath.Join(root, "dst", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "world!", string(data))

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Join(root, "dst"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLocal_RootFolderName(t *testing.T) {
	t.Parallel()
	root := setupTestTree(t)
	p := tree.NewLocal(filepath.Join(root, "src"), nil)

	f, err := p.Folder(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "", f.ID())
	assert.Equal(t, "src", f.Name())
}

func TestLocal_CopyIntoUnthrottled(t *testing.T) {
	t.Parallel()
	root := setupTestTree(t)
	big := make([]byte, 3<<20)
	for i := range big {
		big[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "big.bin"), big, 0o644))

	p := tree.NewLocal(root, nil)
	ctx := context.Background()
	src, err := p.Folder(ctx, "src")
	require.NoError(t, err)
	dst, err := p.Folder(ctx, "dst")
	require.NoError(t, err)

	for _, name := range []string{"big.bin", "a.txt"} {
		file, ok, err := src.FindFile(ctx, name)
		require.NoError(t, err)
		require.True(t, ok)

		copied, err := file.CopyInto(ctx, dst, name)
		require.NoError(t, err)
		assert.Equal(t, file.Size(), copied.Size())

		want, err := os.ReadFile(filepath.Join(root, "src", name))
		require.NoError(t, err)
		got, err := os.ReadFile(filepath.Join(root, "dst", name))
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}
}

func TestLocal_SweepTemp(t *testing.T) {
	t.Parallel()
	root := setupTestTree(t)
	dstDir := filepath.Join(root, "dst")
	for _, name := range []string{".a.txt.1f2e3d4c.shuttle-tmp", ".b.txt.00ff00ff.shuttle-tmp", ".hidden", "notes.shuttle-tmp", "a.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dstDir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dstDir, ".dir.shuttle-tmp"), 0o755))

	p := tree.NewLocal(root, nil)
	ctx := context.Background()
	dst, err := p.Folder(ctx, "dst")
	require.NoError(t, err)
	sweeper, ok := dst.(tree.Sweeper)
	require.True(t, ok)

	n, err := sweeper.SweepTemp(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err := os.ReadDir(dstDir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	slices.Sort(names)
	assert.Equal(t, []string{".dir.shuttle-tmp", ".hidden", "a.txt", "notes.shuttle-tmp"}, names)
}

func TestIsTempName(t *testing.T) {
	t.Parallel()
	assert.True(t, tree.IsTempName(".report.pdf.a1b2c3d4.shuttle-tmp"))
	assert.False(t, tree.IsTempName("report.pdf"))
	assert.False(t, tree.IsTempName("report.shuttle-tmp"))
	assert.False(t, tree.IsTempName(".report.pdf"))
}
