package snapshot

import (
	"fmt"
	"strconv"
	"strings"
)

// ID identifies a snapshot by the four-tuple that the replicated state
// machine uses to order its progress: the log index and term of the last
// included entry, and the processed/exported stream positions the
// snapshot covers.
//
// The canonical on-disk name is the decimal concatenation
// "<index>-<term>-<processedPosition>-<exportedPosition>". Ordering is
// lexicographic on the tuple in that order — Index is the primary key.
type ID struct {
	Index             uint64
	Term              uint64
	ProcessedPosition uint64
	ExportedPosition  uint64
}

// ParseID parses a canonical snapshot directory/file name into an ID.
// It returns false if name does not split into exactly four base-10,
// non-negative integers.
func ParseID(name string) (ID, bool) {
	parts := strings.Split(name, "-")
	if len(parts) != 4 {
		return ID{}, false
	}

	fields := make([]uint64, 4)
	for i, p := range parts {
		if p == "" {
			return ID{}, false
		}
		v, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return ID{}, false
		}
		fields[i] = v
	}

	return ID{
		Index:             fields[0],
		Term:              fields[1],
		ProcessedPosition: fields[2],
		ExportedPosition:  fields[3],
	}, true
}

// String formats the ID as its canonical directory/file name.
func (id ID) String() string {
	return fmt.Sprintf("%d-%d-%d-%d", id.Index, id.Term, id.ProcessedPosition, id.ExportedPosition)
}

// Compare returns -1, 0, or 1 as id is less than, equal to, or greater
// than other, under the 4-tuple lexicographic order (Index, Term,
// ProcessedPosition, ExportedPosition).
func (id ID) Compare(other ID) int {
	switch {
	case id.Index != other.Index:
		return cmpUint64(id.Index, other.Index)
	case id.Term != other.Term:
		return cmpUint64(id.Term, other.Term)
	case id.ProcessedPosition != other.ProcessedPosition:
		return cmpUint64(id.ProcessedPosition, other.ProcessedPosition)
	default:
		return cmpUint64(id.ExportedPosition, other.ExportedPosition)
	}
}

// Less reports whether id sorts strictly before other.
func (id ID) Less(other ID) bool {
	return id.Compare(other) < 0
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
