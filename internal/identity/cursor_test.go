package identity

import "testing"

func snapWithIndices(indices ...int) *Snapshot {
	snap := &Snapshot{}
	for _, i := range indices {
		snap.Valid = append(snap.Valid, &Identity{Index: i})
	}
	return snap
}

func TestNextWrapsAroundSortedSet(t *testing.T) {
	snap := snapWithIndices(0, 2, 5)
	cases := []struct {
		in, want int
	}{
		{0, 2},
		{2, 5},
		{5, 0},
	}
	for _, tc := range cases {
		if got := Next(tc.in, snap); got != tc.want {
			t.Errorf("Next(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestNextSnapsToFirstValidWhenIndexMissing(t *testing.T) {
	snap := snapWithIndices(0, 2, 5)
	if got := Next(1, snap); got != 2 {
		t.Errorf("Next(1) = %d, want 2", got)
	}
	if got := Next(9, snap); got != 0 {
		t.Errorf("Next(9) = %d, want 0 (wrap to smallest)", got)
	}
}

func TestNextEmptySnapshot(t *testing.T) {
	if got := Next(0, &Snapshot{}); got != NoActiveIndex {
		t.Errorf("Next on empty snapshot = %d, want %d", got, NoActiveIndex)
	}
}

func TestActivateResetsCounters(t *testing.T) {
	c := NewCursor(NewPolicy(0, 0), nil)
	c.Activate(3)
	snap := c.Snapshot()
	if snap.State != StateActive || snap.ActiveIndex != 3 {
		t.Fatalf("unexpected snapshot after Activate: %+v", snap)
	}
	if snap.UsageCount != 0 || snap.FailureCount != 0 {
		t.Fatalf("counters not zero on Activate: %+v", snap)
	}
}

func TestBeginSwitchRejectsConcurrentSwitch(t *testing.T) {
	c := NewCursor(NewPolicy(0, 0), nil)
	c.Activate(0)
	if !c.BeginSwitch(2) {
		t.Fatal("first BeginSwitch should succeed")
	}
	if c.BeginSwitch(5) {
		t.Fatal("second concurrent BeginSwitch must fail")
	}
}

func TestCompleteSwitchEntersActiveWithZeroedCounters(t *testing.T) {
	c := NewCursor(NewPolicy(0, 0), nil)
	c.Activate(0)
	c.RecordSuccess()
	c.BeginSwitch(2)
	c.CompleteSwitch()
	snap := c.Snapshot()
	if snap.State != StateActive || snap.ActiveIndex != 2 {
		t.Fatalf("unexpected snapshot after CompleteSwitch: %+v", snap)
	}
	if snap.UsageCount != 0 || snap.FailureCount != 0 {
		t.Fatalf("counters not reset on CompleteSwitch: %+v", snap)
	}
}

func TestFailSwitchAdvancesThenExhausts(t *testing.T) {
	c := NewCursor(NewPolicy(0, 0), nil)
	snap := snapWithIndices(0, 1)
	c.Activate(0)
	c.BeginSwitch(1)

	next, exhausted := c.FailSwitch(snap)
	if exhausted {
		t.Fatal("should not be exhausted after one failure with two candidates")
	}
	if next != 0 {
		t.Fatalf("expected wrap to 0, got %d", next)
	}

	_, exhausted = c.FailSwitch(snap)
	if !exhausted {
		t.Fatal("should be exhausted after a full cycle")
	}
	if c.State() != StateIdle {
		t.Fatalf("expected Idle after exhaustion, got %v", c.State())
	}
}

func TestRecordSuccessTriggersSwitchOnUses(t *testing.T) {
	c := NewCursor(NewPolicy(2, 0), nil)
	c.Activate(0)
	if c.RecordSuccess() {
		t.Fatal("should not trigger switch before reaching threshold")
	}
	if !c.RecordSuccess() {
		t.Fatal("should trigger switch once usageCount reaches switchOnUses")
	}
}

func TestRecordFailureTriggersFailureThreshold(t *testing.T) {
	c := NewCursor(NewPolicy(0, 2), nil)
	c.Activate(0)
	if c.RecordFailure() {
		t.Fatal("should not trigger switch before reaching threshold")
	}
	if !c.RecordFailure() {
		t.Fatal("should trigger switch once failureCount reaches failureThreshold")
	}
}

func TestRecordSuccessResetsFailureCount(t *testing.T) {
	c := NewCursor(NewPolicy(0, 5), nil)
	c.Activate(0)
	c.RecordFailure()
	c.RecordFailure()
	c.RecordSuccess()
	if snap := c.Snapshot(); snap.FailureCount != 0 {
		t.Fatalf("expected failureCount reset to 0, got %d", snap.FailureCount)
	}
}
