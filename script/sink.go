package script

// HAT switch directions, clockwise from top.
const (
	HATTop uint8 = iota
	HATTopRight
	HATRight
	HATBottomRight
	HATBottom
	HATBottomLeft
	HATLeft
	HATTopLeft
	HATCenter
)

// Stick axis values.
const (
	StickMin    uint8 = 0
	StickCenter uint8 = 128
	StickMax    uint8 = 255
)

// ReportSink receives the controller state produced by scripts.
// Implementations own the pending report; the VM never reads it back.
type ReportSink interface {
	// Reset restores the default report (no buttons, HAT centred, sticks centred).
	Reset()
	SetButtons(mask uint16)
	Press(mask uint16)
	Release(mask uint16)
	SetHAT(dir uint8)
	SetLeftStick(x, y uint8)
	SetRightStick(x, y uint8)
	// Resend asks the transport to deliver the current report times more times.
	Resend(times int)
}

// Indicator is told when a script starts or stops running (the "running" LED).
type Indicator interface {
	Running(on bool)
}

type noIndicator struct{}

func (noIndicator) Running(bool) {}
