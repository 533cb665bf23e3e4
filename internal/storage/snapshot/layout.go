package snapshot

import "path/filepath"

const (
	// snapshotsDirName is the committed-snapshots subdirectory, rooted
	// at the partition directory.
	snapshotsDirName = "snapshots"
	// pendingDirName is the staging subdirectory.
	pendingDirName = "pending"
	// checksumSuffix is appended to a committed snapshot's directory
	// name to form its checksum sidecar's file name.
	checksumSuffix = ".checksum"
)

func snapshotsDir(root string) string { return filepath.Join(root, snapshotsDirName) }
func pendingDir(root string) string   { return filepath.Join(root, pendingDirName) }

func committedDirFor(root string, id ID) string {
	return filepath.Join(snapshotsDir(root), id.String())
}

func checksumPathFor(root string, id ID) string {
	return committedDirFor(root, id) + checksumSuffix
}

func pendingDirFor(root string, id ID) string {
	return filepath.Join(pendingDir(root), id.String())
}
