package filecheck

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecker(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "report.pdf")
	require.NoError(t, os.WriteFile(file, []byte("%PDF"), 0644))

	assert.NoError(t, For(file).IsFile().Size(4).Content([]byte("%PDF")).Check())
	assert.NoError(t, For(dir).IsDir().Check())
	assert.NoError(t, For(filepath.Join(dir, "missing")).Absent().Check())

	err := For(file).IsDir().Size(5).Absent().Check()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
	assert.Contains(t, err.Error(), "size 4, want 5")
	assert.Contains(t, err.Error(), "exists")

	err = For(filepath.Join(dir, "missing")).IsFile().Check()
	assert.ErrorContains(t, err, "does not exist")
}
