package hashutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridci/pkg/hashutil"
)

func TestHashStringMatchesHashFile(t *testing.T) {
	content := "step output\n"
	path := filepath.Join(t.TempDir(), "out.log")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	fromFile, err := hashutil.HashFile(path)
	require.NoError(t, err)
	assert.Equal(t, hashutil.HashString(content), fromFile)
	assert.Equal(t, hashutil.HashBytes([]byte(content)), fromFile)
	assert.Len(t, fromFile, 64)
}

func TestHashFileMissing(t *testing.T) {
	_, err := hashutil.HashFile(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}
