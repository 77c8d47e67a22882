package media

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

const hashChunkSize = 64 * 1024

// HashFile computes the streaming SHA-256 of the file at path. The file is
// read in fixed-size chunks and never held in memory whole.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for hashing: %w", err)
	}
	defer f.Close()

	return HashReader(f)
}

// HashReader computes the streaming SHA-256 of r.
func HashReader(r io.Reader) (string, error) {
	hasher := sha256.New()
	buffered := bufio.NewReaderSize(r, hashChunkSize)
	if _, err := io.Copy(hasher, buffered); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
