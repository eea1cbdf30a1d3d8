package identity

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	log "github.com/sirupsen/logrus"
)

// filenamePattern matches "auth-<non-negative-integer>.<ext>", the naming
// convention identity snapshot files are discovered by.
var filenamePattern = regexp.MustCompile(`^auth-(\d+)\.([A-Za-z0-9]+)$`)

// Registry is a read-only, reload-on-demand view of the identities found in
// a directory. The core never writes to this directory; the identity-capture
// sub-feature that would populate it is out of scope.
type Registry struct {
	dir string
}

// NewRegistry builds a registry rooted at dir.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir}
}

// Snapshot is one load of the registry: the valid, parseable identities in
// ascending index order, plus every index seen on disk regardless of
// validity (initialIndices), for operator reporting.
type Snapshot struct {
	Valid          []*Identity
	InitialIndices []int
}

// ByIndex returns the identity with the given index, or nil.
func (s *Snapshot) ByIndex(index int) *Identity {
	for _, id := range s.Valid {
		if id.Index == index {
			return id
		}
	}
	return nil
}

// FirstIndex returns the smallest valid index, or NoActiveIndex if empty.
func (s *Snapshot) FirstIndex() int {
	if len(s.Valid) == 0 {
		return NoActiveIndex
	}
	return s.Valid[0].Index
}

// Load scans the registry directory and returns a fresh Snapshot. Files that
// don't match the naming convention are ignored entirely; files that match
// but fail to parse are recorded in InitialIndices but excluded from Valid.
func (r *Registry) Load() (*Snapshot, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return &Snapshot{}, nil
		}
		return nil, err
	}

	valid := make([]*Identity, 0, len(entries))
	initialIndices := make([]int, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := filenamePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		index, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		initialIndices = append(initialIndices, index)

		path := filepath.Join(r.dir, entry.Name())
		id, err := r.readIdentity(path, index)
		if err != nil {
			log.WithError(err).WithField("path", path).Warn("identity: skipping unparsable file")
			continue
		}
		valid = append(valid, id)
	}

	sort.Slice(valid, func(i, j int) bool { return valid[i].Index < valid[j].Index })
	sort.Ints(initialIndices)

	return &Snapshot{Valid: valid, InitialIndices: initialIndices}, nil
}

func (r *Registry) readIdentity(path string, index int) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc map[string]json.RawMessage
	if err = json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	accountName := ""
	if raw, ok := doc["accountName"]; ok {
		_ = json.Unmarshal(raw, &accountName)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	return &Identity{
		Index:        index,
		Path:         path,
		AccountName:  accountName,
		StorageState: data,
		ModTime:      info.ModTime(),
	}, nil
}
