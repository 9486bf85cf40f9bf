package script

// Timer is the millisecond time base of a script: a free running clock, the
// countdown the VM is blocked on and the extra wait queued by compressed keys.
type Timer struct {
	Clock uint32
	Wait  uint32
	Tail  uint16
}

// Tick advances the clock by one millisecond. The last millisecond of a wait
// is held while holdLast is set, so a report change is never cut short before
// the host has seen it.
func (t *Timer) Tick(holdLast bool) {
	t.Clock++
	if t.Wait != 0 && (!holdLast || t.Wait > 1) {
		t.Wait--
	}
}

// Blocked reports whether the VM must yield.
func (t *Timer) Blocked() bool { return t.Wait > 0 }

func (t *Timer) SetWait(ms uint32) { t.Wait = ms }

// Defer queues ms to be waited after the current iteration.
func (t *Timer) Defer(ms uint16) { t.Tail = ms }

// TakeTail moves a queued tail wait into the countdown.
func (t *Timer) TakeTail() bool {
	if t.Tail == 0 {
		return false
	}
	t.Wait = uint32(t.Tail)
	t.Tail = 0
	return true
}

func (t *Timer) Reset() { *t = Timer{} }
