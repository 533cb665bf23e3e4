package snapshot

import (
	"os"
	"path/filepath"
)

// bootstrap runs exactly once, synchronously, before the store accepts
// any operation: it scans snapshots/, discards anything that doesn't
// parse, pair, and verify, keeps only the survivor with the maximum
// id, and clears pending/ entirely.
func (s *Store) bootstrap() *Error {
	if ferr := ensureDir(s.root); ferr != nil {
		return ferr
	}
	if ferr := ensureDir(snapshotsDir(s.root)); ferr != nil {
		return ferr
	}
	if ferr := ensureDir(pendingDir(s.root)); ferr != nil {
		return ferr
	}

	survivors, ferr := s.scanCandidates()
	if ferr != nil {
		return ferr
	}

	var best *Persisted
	for _, c := range survivors {
		if best == nil || best.id.Less(c.id) {
			best = newPersisted(s.root, c.id, c.checksum)
		}
	}

	for _, c := range survivors {
		if best != nil && c.id == best.id {
			continue
		}
		s.log.Info("bootstrap: discarding superseded snapshot", "snapshot_id", c.id.String())
		recursiveDelete(committedDirFor(s.root, c.id))
		recursiveDelete(checksumPathFor(s.root, c.id))
	}

	if best != nil {
		s.latest.Store(best)
		s.log.Info("bootstrap: recovered latest snapshot", "snapshot_id", best.id.String())
	} else {
		s.log.Info("bootstrap: no valid snapshot found")
	}

	if ferr := recursiveDelete(pendingDir(s.root)); ferr != nil {
		return ferr
	}
	if ferr := ensureDir(pendingDir(s.root)); ferr != nil {
		return ferr
	}

	if ferr := fsyncDir(snapshotsDir(s.root)); ferr != nil {
		return ferr
	}
	return fsyncDir(s.root)
}

type candidate struct {
	id       ID
	checksum uint64
}

// scanCandidates discards anything under snapshots/ that is not a
// directory/sidecar pair named after a valid ID, then verifies each
// remaining pair's checksum, deleting failures.
func (s *Store) scanCandidates() ([]candidate, *Error) {
	entries, err := os.ReadDir(snapshotsDir(s.root))
	if err != nil {
		return nil, wrapIoError("read snapshots dir", err)
	}

	dirIDs := make(map[ID]bool)
	sidecarIDs := make(map[ID]bool)

	for _, e := range entries {
		if e.IsDir() {
			if id, ok := ParseID(e.Name()); ok {
				dirIDs[id] = true
				continue
			}
			s.log.Warn("bootstrap: removing unparseable snapshot directory", "name", e.Name())
			recursiveDelete(filepath.Join(snapshotsDir(s.root), e.Name()))
			continue
		}

		name := e.Name()
		if idPart, ok := trimChecksumSuffix(name); ok {
			if id, ok := ParseID(idPart); ok {
				info, statErr := e.Info()
				if statErr == nil && info.Size() == checksumSize {
					sidecarIDs[id] = true
					continue
				}
			}
		}
		s.log.Warn("bootstrap: removing orphan file", "name", name)
		os.Remove(filepath.Join(snapshotsDir(s.root), name))
	}

	var survivors []candidate
	for id := range dirIDs {
		if !sidecarIDs[id] {
			s.log.Warn("bootstrap: snapshot directory missing checksum sidecar", "snapshot_id", id.String())
			recursiveDelete(committedDirFor(s.root, id))
			continue
		}
		raw, err := os.ReadFile(checksumPathFor(s.root, id))
		if err != nil {
			recursiveDelete(committedDirFor(s.root, id))
			recursiveDelete(checksumPathFor(s.root, id))
			continue
		}
		want, ok := decodeChecksum(raw)
		if !ok {
			recursiveDelete(committedDirFor(s.root, id))
			recursiveDelete(checksumPathFor(s.root, id))
			continue
		}
		got, cerr := computeChecksum(committedDirFor(s.root, id))
		if cerr != nil || got != want {
			s.log.Warn("bootstrap: checksum mismatch, discarding", "snapshot_id", id.String())
			recursiveDelete(committedDirFor(s.root, id))
			recursiveDelete(checksumPathFor(s.root, id))
			continue
		}
		survivors = append(survivors, candidate{id: id, checksum: want})
	}

	for id := range sidecarIDs {
		if !dirIDs[id] {
			s.log.Warn("bootstrap: orphan checksum sidecar", "snapshot_id", id.String())
			os.Remove(checksumPathFor(s.root, id))
		}
	}

	return survivors, nil
}

func trimChecksumSuffix(name string) (string, bool) {
	n := len(name) - len(checksumSuffix)
	if n <= 0 || name[n:] != checksumSuffix {
		return "", false
	}
	return name[:n], true
}
