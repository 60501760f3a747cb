package artifact_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/orderscraper/internal/artifact"
)

func TestNew(t *testing.T) {
	t.Run("CreatesMissingDir", func(t *testing.T) {
		target := filepath.Join(t.TempDir(), "orders")
		dir, err := artifact.New(artifact.Config{Dir: target})
		require.NoError(t, err)
		assert.Equal(t, target, dir.Path())
		info, err := os.Stat(target)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingDir", func(t *testing.T) {
		_, err := artifact.New(artifact.Config{})
		assert.Error(t, err)
	})

	t.Run("PathIsFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := artifact.New(artifact.Config{Dir: file})
		assert.Error(t, err)
	})
}

func TestNaming(t *testing.T) {
	t.Parallel()

	dir, err := artifact.New(artifact.Config{Dir: t.TempDir()})
	require.NoError(t, err)

	assert.Equal(t, "amazon_order_2021-03-03_111-2222222-3333333", artifact.BaseName("2021-03-03", "111-2222222-3333333"))
	assert.Equal(t,
		filepath.Join(dir.Path(), "amazon_order_2021-03-03_111-2222222-3333333.pdf"),
		dir.DocumentPath("2021-03-03", "111-2222222-3333333"))
	assert.Equal(t,
		filepath.Join(dir.Path(), "amazon_order_2021-03-03_111-2222222-3333333.html"),
		dir.IntermediatePath("2021-03-03", "111-2222222-3333333"))
}

func TestExists(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(base, "amazon_order_2021-03-03_111-2222222-3333333.pdf"), []byte("%PDF"), 0o600))

	loose, err := artifact.New(artifact.Config{Dir: base})
	require.NoError(t, err)
	strict, err := artifact.New(artifact.Config{Dir: base, StrictDedup: true})
	require.NoError(t, err)

	tests := []struct {
		name   string
		dir    *artifact.Dir
		id     string
		expect bool
	}{
		{"loose exact id", loose, "111-2222222-3333333", true},
		{"loose substring id", loose, "2222222", true},
		{"loose absent", loose, "999-0000000-0000000", false},
		{"strict exact id", strict, "111-2222222-3333333", true},
		{"strict substring id", strict, "2222222", false},
		{"empty id", loose, "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.dir.Exists(tc.id)
			require.NoError(t, err)
			assert.Equal(t, tc.expect, got)
		})
	}
}

func TestExistsIgnoresIntermediateFiles(t *testing.T) {
	t.Parallel()

	dir, err := artifact.New(artifact.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	_, err = dir.WriteIntermediate("2021-03-03", "111-2222222-3333333", []byte("<html></html>"))
	require.NoError(t, err)

	exists, err := dir.Exists("111-2222222-3333333")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestWriteIntermediateAndRemove(t *testing.T) {
	t.Parallel()

	dir, err := artifact.New(artifact.Config{Dir: t.TempDir()})
	require.NoError(t, err)

	p, err := dir.WriteIntermediate("2021-03-03", "111-2222222-3333333", []byte("<html>order</html>"))
	require.NoError(t, err)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "<html>order</html>", string(data))

	require.NoError(t, artifact.Remove(p))
	require.NoError(t, artifact.Remove(p))
	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))

	_, err = dir.WriteIntermediate("2021-03-03", "../escape", nil)
	assert.Error(t, err)
}
