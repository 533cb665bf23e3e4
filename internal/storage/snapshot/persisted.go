package snapshot

import "path/filepath"

// Persisted is an immutable handle to a committed, checksum-verified
// snapshot directory. It is safe to read from any goroutine; the store
// publishes new values via an atomic handoff, never by mutating an
// existing Persisted.
type Persisted struct {
	id       ID
	dir      string
	checksum uint64
}

func newPersisted(root string, id ID, checksum uint64) *Persisted {
	return &Persisted{
		id:       id,
		dir:      filepath.Join(snapshotsDir(root), id.String()),
		checksum: checksum,
	}
}

// ID returns the snapshot's identifier.
func (p *Persisted) ID() ID { return p.id }

// Index returns the log index the snapshot was taken at.
func (p *Persisted) Index() uint64 { return p.id.Index }

// Term returns the leader term the snapshot was taken at.
func (p *Persisted) Term() uint64 { return p.id.Term }

// ProcessedPosition returns the processed stream position covered.
func (p *Persisted) ProcessedPosition() uint64 { return p.id.ProcessedPosition }

// ExportedPosition returns the exported stream position covered.
func (p *Persisted) ExportedPosition() uint64 { return p.id.ExportedPosition }

// Path returns the committed snapshot directory.
func (p *Persisted) Path() string { return p.dir }

// ChecksumPath returns the path of the checksum sidecar next to Path().
func (p *Persisted) ChecksumPath() string { return p.dir + checksumSuffix }

// Checksum returns the 64-bit integrity tag covering the snapshot's
// files.
func (p *Persisted) Checksum() uint64 { return p.checksum }

// Equal reports whether two Persisted snapshots refer to the same id.
// Persisted snapshot identity is by id alone.
func (p *Persisted) Equal(other *Persisted) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.id == other.id
}
