package handler

import "sync/atomic"

// systemBusy is a process-wide guard set while an identity switch is in
// flight. New requests observe it and fail fast rather than queue behind
// the switch, per the fail-fast policy this specification chooses.
var systemBusy atomic.Bool

func isSystemBusy() bool { return systemBusy.Load() }

func setSystemBusy(v bool) { systemBusy.Store(v) }
