package identity

import (
	"encoding/binary"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var cursorBucket = []byte("cursor")
var cursorKey = []byte("active")

// Store persists the cursor's state across restarts using bbolt, so an
// in-progress rotation (or at least the last known-good active index) is
// not lost when the process is restarted. Persistence is best-effort: a
// store that fails to open runs the cursor in memory-only mode.
type Store struct {
	db *bolt.DB
}

// OpenStore opens (creating if needed) a bbolt database under dir.
func OpenStore(dir string) *Store {
	path := filepath.Join(dir, "identity-cursor.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		log.WithError(err).Warn("identity: cursor persistence disabled, could not open store")
		return &Store{}
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cursorBucket)
		return err
	})
	if err != nil {
		log.WithError(err).Warn("identity: cursor persistence disabled, could not init bucket")
		_ = db.Close()
		return &Store{}
	}
	return &Store{db: db}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save writes the cursor snapshot. Errors are logged, not returned: a
// persistence failure must never interrupt request dispatch.
func (s *Store) Save(snap CursorSnapshot) {
	if s.db == nil {
		return
	}
	buf := encodeSnapshot(snap)
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cursorBucket).Put(cursorKey, buf)
	})
	if err != nil {
		log.WithError(err).Warn("identity: failed to persist cursor state")
	}
}

// Load reads back a previously persisted snapshot, if any.
func (s *Store) Load() (CursorSnapshot, bool) {
	if s.db == nil {
		return CursorSnapshot{}, false
	}
	var buf []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(cursorBucket).Get(cursorKey)
		if v != nil {
			buf = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || buf == nil {
		return CursorSnapshot{}, false
	}
	return decodeSnapshot(buf), true
}

// encodeSnapshot serializes a CursorSnapshot into a fixed-width binary
// record: state, activeIndex, targetIndex, usageCount, failureCount, each
// as a little-endian int64.
func encodeSnapshot(snap CursorSnapshot) []byte {
	buf := make([]byte, 40)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(int64(snap.State)))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(int64(snap.ActiveIndex)))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(int64(snap.TargetIndex)))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(int64(snap.UsageCount)))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(int64(snap.FailureCount)))
	return buf
}

func decodeSnapshot(buf []byte) CursorSnapshot {
	if len(buf) < 40 {
		return CursorSnapshot{}
	}
	return CursorSnapshot{
		State:        State(int64(binary.LittleEndian.Uint64(buf[0:8]))),
		ActiveIndex:  int(int64(binary.LittleEndian.Uint64(buf[8:16]))),
		TargetIndex:  int(int64(binary.LittleEndian.Uint64(buf[16:24]))),
		UsageCount:   int(int64(binary.LittleEndian.Uint64(buf[24:32]))),
		FailureCount: int(int64(binary.LittleEndian.Uint64(buf[32:40]))),
	}
}
