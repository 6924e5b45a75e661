package core

// MonotonicClock turns submitter timestamps into a ledger clock that never
// moves backwards. The core never reads wall-clock time.
type MonotonicClock struct {
	last int64
}

// Peek returns the time a command stamped ts would execute at.
func (mc *MonotonicClock) Peek(ts int64) int64 {
	if ts < mc.last {
		return mc.last
	}
	return ts
}

// Commit advances the clock to now.
func (mc *MonotonicClock) Commit(now int64) {
	if now > mc.last {
		mc.last = now
	}
}

// Now returns the last committed time.
func (mc *MonotonicClock) Now() int64 {
	return mc.last
}
