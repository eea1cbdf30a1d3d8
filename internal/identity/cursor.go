package identity

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Policy holds the process-wide, hot-reloadable thresholds that drive
// automatic identity switches. Zero disables the corresponding trigger.
// Values are stored as atomics so the config watcher can update them without
// taking the cursor's lock.
type Policy struct {
	switchOnUses     atomic.Int64
	failureThreshold atomic.Int64
}

// NewPolicy builds a Policy from the config's initial values.
func NewPolicy(switchOnUses, failureThreshold int) *Policy {
	p := &Policy{}
	p.switchOnUses.Store(int64(switchOnUses))
	p.failureThreshold.Store(int64(failureThreshold))
	return p
}

// Update replaces both thresholds, used by the config hot-reload path.
func (p *Policy) Update(switchOnUses, failureThreshold int) {
	p.switchOnUses.Store(int64(switchOnUses))
	p.failureThreshold.Store(int64(failureThreshold))
}

// Cursor implements the identity rotation state machine: Idle, Active(i),
// Switching(i->j). Exactly one Switching is permitted at a time; every
// mutating method holds the internal mutex for its duration, so callers
// never need their own locking around cursor state.
type Cursor struct {
	mu sync.Mutex

	state        State
	activeIndex  int
	targetIndex  int
	cycleStart   int
	usageCount   int
	failureCount int

	policy *Policy
	store  *Store
}

// NewCursor builds a cursor in the Idle state, or, when store holds a
// previously persisted snapshot, in the state that snapshot records.
func NewCursor(policy *Policy, store *Store) *Cursor {
	c := &Cursor{
		state:       StateIdle,
		activeIndex: NoActiveIndex,
		targetIndex: NoActiveIndex,
		policy:      policy,
		store:       store,
	}
	if store != nil {
		if saved, ok := store.Load(); ok {
			c.state = saved.State
			c.activeIndex = saved.ActiveIndex
			c.targetIndex = saved.TargetIndex
			c.usageCount = saved.UsageCount
			c.failureCount = saved.FailureCount
		}
	}
	return c
}

// Snapshot returns a consistent read of the cursor's current state.
func (c *Cursor) Snapshot() CursorSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Cursor) snapshotLocked() CursorSnapshot {
	return CursorSnapshot{
		State:        c.state,
		ActiveIndex:  c.activeIndex,
		TargetIndex:  c.targetIndex,
		UsageCount:   c.usageCount,
		FailureCount: c.failureCount,
	}
}

func (c *Cursor) persistLocked() {
	if c.store == nil {
		return
	}
	c.store.Save(c.snapshotLocked())
}

// Next returns the successor of index in the snapshot's sorted valid set,
// wrapping around. If index is no longer present in the set (the set
// changed size during a switch), the cursor snaps to the first valid index
// greater than or equal to the old cursor, per the rotation invariant.
func Next(index int, snap *Snapshot) int {
	if snap == nil || len(snap.Valid) == 0 {
		return NoActiveIndex
	}
	indices := make([]int, len(snap.Valid))
	for i, id := range snap.Valid {
		indices[i] = id.Index
	}
	sort.Ints(indices)

	pos := sort.SearchInts(indices, index)
	if pos < len(indices) && indices[pos] == index {
		return indices[(pos+1)%len(indices)]
	}
	// index not present: snap to the first valid index >= index, wrapping to
	// the smallest if none is large enough.
	if pos < len(indices) {
		return indices[pos]
	}
	return indices[0]
}

// Activate transitions Idle -> Active(index), used on first serve and on a
// successful switch's completion (CompleteSwitch handles the latter).
func (c *Cursor) Activate(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateActive
	c.activeIndex = index
	c.targetIndex = NoActiveIndex
	c.usageCount = 0
	c.failureCount = 0
	c.persistLocked()
}

// BeginSwitch transitions Active(i) -> Switching(i->target). Returns false
// if a switch is already in progress; callers must not start a second one.
func (c *Cursor) BeginSwitch(target int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateSwitching {
		return false
	}
	c.state = StateSwitching
	c.targetIndex = target
	c.cycleStart = target
	c.persistLocked()
	return true
}

// CompleteSwitch transitions Switching(i->j) -> Active(j) on a successful
// browser restart, resetting both counters per the invariant that usage and
// failure counts are zero on entry to Active.
func (c *Cursor) CompleteSwitch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateActive
	c.activeIndex = c.targetIndex
	c.targetIndex = NoActiveIndex
	c.usageCount = 0
	c.failureCount = 0
	c.persistLocked()
}

// FailSwitch handles a failed restart during Switching(j->next(j)). It
// advances the target to the next candidate in snap and reports whether a
// full cycle has been completed without success, in which case the caller
// should fall back to Idle and log a fatal as the spec requires.
func (c *Cursor) FailSwitch(snap *Snapshot) (nextTarget int, exhausted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	candidate := Next(c.targetIndex, snap)
	if candidate == NoActiveIndex || candidate == c.cycleStart {
		c.state = StateIdle
		c.activeIndex = NoActiveIndex
		c.targetIndex = NoActiveIndex
		c.persistLocked()
		return NoActiveIndex, true
	}
	c.targetIndex = candidate
	c.persistLocked()
	return candidate, false
}

// ToIdle forces the cursor to Idle, used when the duplex channel drops
// (Disconnected) and the next request must trigger a fresh launch.
func (c *Cursor) ToIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateIdle
	c.activeIndex = NoActiveIndex
	c.targetIndex = NoActiveIndex
	c.persistLocked()
}

// RecordSuccess increments usageCount and resets failureCount after a
// successful dispatch, returning true if the switch-on-uses threshold has
// now been reached and an asynchronous switch should be triggered.
func (c *Cursor) RecordSuccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usageCount++
	c.failureCount = 0
	c.persistLocked()
	limit := c.policy.switchOnUses.Load()
	return limit > 0 && int64(c.usageCount) >= limit
}

// RecordFailure increments failureCount after a failed dispatch, returning
// true if the failure threshold has now been reached and a switch should
// happen before the retry is attempted.
func (c *Cursor) RecordFailure() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount++
	c.persistLocked()
	limit := c.policy.failureThreshold.Load()
	return limit > 0 && int64(c.failureCount) >= limit
}

// ActiveIndex returns the currently active identity index, or NoActiveIndex.
func (c *Cursor) ActiveIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeIndex
}

// State returns the current rotation state.
func (c *Cursor) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
