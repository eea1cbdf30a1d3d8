// Package identity implements the read-only identity registry and the active
// identity cursor's rotation state machine described for the browser bridge:
// a directory of authenticated-session snapshots, indexed by a non-negative
// integer embedded in the filename, and a cursor that walks the valid set.
package identity

import (
	"encoding/json"
	"time"
)

// Identity is a persisted snapshot of an authenticated browser session:
// cookies and origin storage state, plus a display label. Index is the
// non-negative integer parsed from the filename; indices form a sparse set
// because invalid or unparsable files are excluded but still recorded.
type Identity struct {
	// Index is this identity's position in the sparse valid set.
	Index int
	// Path is the absolute path of the backing file.
	Path string
	// AccountName is an optional human readable label read from the snapshot.
	AccountName string
	// StorageState is the raw parsed document (cookies, localStorage, etc.)
	// handed to the Browser Bridge verbatim at launch time.
	StorageState json.RawMessage
	// ModTime is the file's last modification time, used for display only.
	ModTime time.Time
}

// State names the rotation state machine's three states.
type State int

const (
	// StateIdle means no browser is running and no identity is active.
	StateIdle State = iota
	// StateActive means the browser is running with ActiveIndex loaded.
	StateActive
	// StateSwitching means a restart to TargetIndex is in progress.
	StateSwitching
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateActive:
		return "Active"
	case StateSwitching:
		return "Switching"
	default:
		return "Unknown"
	}
}

// NoActiveIndex is the cursor sentinel meaning "no active identity",
// distinct from any valid non-negative index.
const NoActiveIndex = -1

// CursorSnapshot is an immutable read of the cursor's state for status
// reporting and for persistence (see store.go).
type CursorSnapshot struct {
	State        State
	ActiveIndex  int
	TargetIndex  int
	UsageCount   int
	FailureCount int
}
