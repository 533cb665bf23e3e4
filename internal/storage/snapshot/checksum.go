package snapshot

import (
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// checksumSize is the fixed size of the on-disk checksum sidecar: an
// 8-byte big-endian uint64.
const checksumSize = 8

// computeChecksum combines the content of every regular file under dir,
// visited in stable (bytewise-ASCII, path-relative-to-dir) order, into a
// single 64-bit digest. The digest algorithm is xxhash64; any 8-byte
// checksum satisfies the on-disk sidecar format, and xxhash is already
// part of this module's dependency surface.
func computeChecksum(dir string) (uint64, *Error) {
	paths, ferr := sortedRegularFiles(dir)
	if ferr != nil {
		return 0, ferr
	}

	digest := xxhash.New()
	for _, rel := range paths {
		f, err := os.Open(filepath.Join(dir, rel))
		if err != nil {
			return 0, wrapIoError("open snapshot file for checksum", err)
		}
		// Mix the relative path in so a rename between two identically
		// sized-and-shaped files still changes the digest.
		_, _ = digest.WriteString(rel)
		_, _ = digest.Write([]byte{0})
		if _, err := io.Copy(digest, f); err != nil {
			f.Close()
			return 0, wrapIoError("read snapshot file for checksum", err)
		}
		f.Close()
	}

	return digest.Sum64(), nil
}

// sortedRegularFiles returns the paths of every regular file under dir,
// relative to dir, sorted bytewise ascending.
func sortedRegularFiles(dir string) ([]string, *Error) {
	var rels []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		rels = append(rels, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, wrapIoError("walk snapshot directory", err)
	}
	sort.Strings(rels)
	return rels, nil
}

// encodeChecksum returns the 8-byte big-endian encoding of sum.
func encodeChecksum(sum uint64) []byte {
	buf := make([]byte, checksumSize)
	binary.BigEndian.PutUint64(buf, sum)
	return buf
}

// decodeChecksum parses an 8-byte big-endian sidecar. It fails unless
// buf is exactly checksumSize bytes.
func decodeChecksum(buf []byte) (uint64, bool) {
	if len(buf) != checksumSize {
		return 0, false
	}
	return binary.BigEndian.Uint64(buf), true
}

// verifyChecksum recomputes dir's checksum and compares it against the
// sidecar file at sidecarPath. Returns ErrCorrupt on mismatch or a
// malformed sidecar.
func verifyChecksum(dir, sidecarPath string) *Error {
	raw, err := os.ReadFile(sidecarPath)
	if err != nil {
		return wrapIoError("read checksum sidecar", err)
	}
	want, ok := decodeChecksum(raw)
	if !ok {
		return ErrCorrupt.withCause(fmt.Errorf("sidecar %s has %d bytes, want %d", sidecarPath, len(raw), checksumSize))
	}
	got, cerr := computeChecksum(dir)
	if cerr != nil {
		return cerr
	}
	if got != want {
		return ErrCorrupt.withCause(fmt.Errorf("checksum mismatch for %s: got %x, want %x", dir, got, want))
	}
	return nil
}
