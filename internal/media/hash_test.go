package media

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashFileDeterministic(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "frame_0.jpg")
	content := []byte("jpeg bytes standing in for a rendered frame")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	first, err := HashFile(path)
	require.NoError(t, err)
	second, err := HashFile(path)
	require.NoError(t, err)

	require.Equal(t, first, second)

	sum := sha256.Sum256(content)
	require.Equal(t, hex.EncodeToString(sum[:]), first)
}

func TestHashFileDiffersForDifferentContent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := filepath.Join(dir, "a.pdf")
	b := filepath.Join(dir, "b.pdf")
	require.NoError(t, os.WriteFile(a, []byte("report one"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("report two"), 0o644))

	ha, err := HashFile(a)
	require.NoError(t, err)
	hb, err := HashFile(b)
	require.NoError(t, err)
	require.NotEqual(t, ha, hb)
}

func TestHashReaderMatchesHashFile(t *testing.T) {
	t.Parallel()

	content := strings.Repeat("0123456789abcdef", 10_000) // spans several chunks
	path := filepath.Join(t.TempDir(), "big.bin")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	fromFile, err := HashFile(path)
	require.NoError(t, err)
	fromReader, err := HashReader(strings.NewReader(content))
	require.NoError(t, err)
	require.Equal(t, fromFile, fromReader)
}

func TestHashFileMissing(t *testing.T) {
	t.Parallel()

	_, err := HashFile(filepath.Join(t.TempDir(), "nope.mp4"))
	require.Error(t, err)
	require.ErrorIs(t, err, os.ErrNotExist)
}
