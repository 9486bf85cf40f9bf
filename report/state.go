package report

import "sync"

// State holds the pending report. It implements script.ReportSink and may be
// read from other goroutines (the control API) while the device loop writes it.
type State struct {
	mu      sync.Mutex
	current Report
	pending int
	sent    uint64
}

func NewState() *State {
	return &State{current: Default()}
}

func (s *State) Reset() {
	s.mu.Lock()
	s.current = Default()
	s.mu.Unlock()
}

func (s *State) SetButtons(mask uint16) {
	s.mu.Lock()
	s.current.Buttons = mask
	s.mu.Unlock()
}

func (s *State) Press(mask uint16) {
	s.mu.Lock()
	s.current.Buttons |= mask
	s.mu.Unlock()
}

func (s *State) Release(mask uint16) {
	s.mu.Lock()
	s.current.Buttons &^= mask
	s.mu.Unlock()
}

func (s *State) SetHAT(dir uint8) {
	s.mu.Lock()
	s.current.HAT = dir
	s.mu.Unlock()
}

func (s *State) SetLeftStick(x, y uint8) {
	s.mu.Lock()
	s.current.LX, s.current.LY = x, y
	s.mu.Unlock()
}

func (s *State) SetRightStick(x, y uint8) {
	s.mu.Lock()
	s.current.RX, s.current.RY = x, y
	s.mu.Unlock()
}

// Set replaces the whole report.
func (s *State) Set(r Report) {
	s.mu.Lock()
	s.current = r
	s.mu.Unlock()
}

// Resend schedules the current report for at least one more delivery.
func (s *State) Resend(times int) {
	s.mu.Lock()
	s.pending = max(times, 1)
	s.mu.Unlock()
}

// Snapshot returns a copy of the pending report.
func (s *State) Snapshot() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Pending returns how many deliveries of a changed report are still owed.
func (s *State) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Deliver hands the current report to the transport and counts it.
// changed is true while the report still owes deliveries.
func (s *State) Deliver() (r Report, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed = s.pending > 0
	if changed {
		s.pending--
	}
	s.sent++
	return s.current, changed
}

// Sent returns the number of delivered reports.
func (s *State) Sent() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}
