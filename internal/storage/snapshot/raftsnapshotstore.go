package snapshot

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/raft"
)

const (
	raftBodyName = "state.bin"
	raftMetaName = "raft-meta.json"
)

// RaftStore adapts a *Store to hashicorp/raft's raft.SnapshotStore
// interface, so a raft.Raft node can use this package's crash-safe,
// checksum-verified store as its snapshot backend in place of
// raft.NewFileSnapshotStore. Raft's own (index, term) pair becomes this
// store's Index/Term; ProcessedPosition and ExportedPosition — which
// raft has no equivalent of — are always zero for raft-driven
// snapshots.
type RaftStore struct {
	store *Store
}

// NewRaftStore wraps store for use as a raft.SnapshotStore.
func NewRaftStore(store *Store) *RaftStore {
	return &RaftStore{store: store}
}

type raftMetaFile struct {
	Version            raft.SnapshotVersion `json:"version"`
	Configuration      raft.Configuration   `json:"configuration"`
	ConfigurationIndex uint64               `json:"configuration_index"`
}

// Create begins a new raft snapshot. The returned sink buffers the
// stream raft writes to a temp file and only stages it as a
// TransientSnapshot on Close, since Writer populates a directory in one
// shot while raft.SnapshotSink is a streaming io.WriteCloser.
func (r *RaftStore) Create(version raft.SnapshotVersion, index, term uint64, configuration raft.Configuration, configurationIndex uint64, _ raft.Transport) (raft.SnapshotSink, error) {
	t, ok := r.store.NewTransientSnapshot(index, term, 0, 0)
	if !ok {
		return nil, fmt.Errorf("raftsnapshotstore: refusing snapshot at index=%d term=%d: not newer than latest", index, term)
	}

	tmp, err := os.CreateTemp("", "raftsnap-*.tmp")
	if err != nil {
		t.Abort()
		return nil, fmt.Errorf("raftsnapshotstore: create staging file: %w", err)
	}

	return &raftSink{
		t:   t,
		tmp: tmp,
		meta: raftMetaFile{
			Version:            version,
			Configuration:      configuration,
			ConfigurationIndex: configurationIndex,
		},
	}, nil
}

// List reports the current latest snapshot, if any. This store only
// ever keeps one committed snapshot at a time, unlike
// raft.FileSnapshotStore's retained-N model.
func (r *RaftStore) List() ([]*raft.SnapshotMeta, error) {
	p := r.store.GetLatestSnapshot()
	if p == nil {
		return nil, nil
	}
	meta, err := r.readMeta(p)
	if err != nil {
		return nil, err
	}
	return []*raft.SnapshotMeta{meta}, nil
}

// Open opens the snapshot named id for reading. id must name the
// current latest snapshot; this store does not retain superseded ones.
func (r *RaftStore) Open(id string) (*raft.SnapshotMeta, io.ReadCloser, error) {
	p := r.store.GetLatestSnapshot()
	if p == nil || p.ID().String() != id {
		return nil, nil, fmt.Errorf("raftsnapshotstore: snapshot %q not found", id)
	}
	meta, err := r.readMeta(p)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(filepath.Join(p.Path(), raftBodyName))
	if err != nil {
		return nil, nil, fmt.Errorf("raftsnapshotstore: open snapshot body: %w", err)
	}
	return meta, f, nil
}

func (r *RaftStore) readMeta(p *Persisted) (*raft.SnapshotMeta, error) {
	raw, err := os.ReadFile(filepath.Join(p.Path(), raftMetaName))
	if err != nil {
		return nil, fmt.Errorf("raftsnapshotstore: read metadata: %w", err)
	}
	var mf raftMetaFile
	if err := json.Unmarshal(raw, &mf); err != nil {
		return nil, fmt.Errorf("raftsnapshotstore: decode metadata: %w", err)
	}
	info, err := os.Stat(filepath.Join(p.Path(), raftBodyName))
	if err != nil {
		return nil, fmt.Errorf("raftsnapshotstore: stat snapshot body: %w", err)
	}
	return &raft.SnapshotMeta{
		Version:            mf.Version,
		ID:                 p.ID().String(),
		Index:              p.Index(),
		Term:               p.Term(),
		Configuration:      mf.Configuration,
		ConfigurationIndex: mf.ConfigurationIndex,
		Size:               info.Size(),
	}, nil
}

// raftSink implements raft.SnapshotSink over a Transient. Writes go to
// a scratch file; Close stages it into the TransientSnapshot's
// directory and commits it in one step.
type raftSink struct {
	t       *Transient
	tmp     *os.File
	meta    raftMetaFile
	aborted bool
}

func (s *raftSink) Write(p []byte) (int, error) { return s.tmp.Write(p) }

func (s *raftSink) ID() string { return s.t.ID().String() }

func (s *raftSink) Cancel() error {
	if s.aborted {
		return nil
	}
	s.aborted = true
	path := s.tmp.Name()
	s.tmp.Close()
	os.Remove(path)
	_, err := s.t.Abort().Join()
	return err
}

func (s *raftSink) Close() error {
	if s.aborted {
		return nil
	}
	path := s.tmp.Name()
	if err := s.tmp.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("raftsnapshotstore: close staging file: %w", err)
	}

	metaBytes, err := json.Marshal(s.meta)
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("raftsnapshotstore: encode metadata: %w", err)
	}

	_, err = s.t.Take(func(dir string) bool {
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return false
		}
		if renErr := os.Rename(path, filepath.Join(dir, raftBodyName)); renErr != nil {
			return false
		}
		return os.WriteFile(filepath.Join(dir, raftMetaName), metaBytes, 0o640) == nil
	}).Join()
	if err != nil {
		return fmt.Errorf("raftsnapshotstore: stage snapshot: %w", err)
	}

	if _, err := s.t.Persist().Join(); err != nil {
		return fmt.Errorf("raftsnapshotstore: commit snapshot: %w", err)
	}
	return nil
}

var _ raft.SnapshotStore = (*RaftStore)(nil)
