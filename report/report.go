package report

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Size is the length of the HID input report.
const Size = 8

// Report is the controller state sent to the console.
type Report struct {
	// Button bitfield, see the Button* constants
	Buttons uint16
	// HAT switch direction, HATCenter when released
	HAT uint8
	// Sticks: 0 = left/up, 128 = centre, 255 = right/down
	LX, LY uint8
	RX, RY uint8
	Vendor uint8
}

// Default returns the idle report: no buttons, HAT and sticks centred.
func Default() Report {
	return Report{
		HAT: HATCenter,
		LX:  StickCenter,
		LY:  StickCenter,
		RX:  StickCenter,
		RY:  StickCenter,
	}
}

// IsDefault reports whether r is the idle report.
func (r Report) IsDefault() bool { return r == Default() }

// BuildReport encodes the report into the 8-byte HID input report.
// Layout (indices in the returned slice):
//
//	0-1: Buttons (little-endian)
//	  2: HAT
//	  3: LX
//	  4: LY
//	  5: RX
//	  6: RY
//	  7: Vendor specific
func (r *Report) BuildReport() []byte {
	b := make([]byte, Size)
	binary.LittleEndian.PutUint16(b[0:2], r.Buttons)
	b[2] = r.HAT
	b[3] = r.LX
	b[4] = r.LY
	b[5] = r.RX
	b[6] = r.RY
	b[7] = r.Vendor
	return b
}

// MarshalBinary encodes the report in HID layout.
func (r *Report) MarshalBinary() ([]byte, error) {
	return r.BuildReport(), nil
}

// UnmarshalBinary decodes an 8-byte HID report.
func (r *Report) UnmarshalBinary(data []byte) error {
	if len(data) < Size {
		return io.ErrUnexpectedEOF
	}
	r.Buttons = binary.LittleEndian.Uint16(data[0:2])
	r.HAT = data[2]
	r.LX = data[3]
	r.LY = data[4]
	r.RX = data[5]
	r.RY = data[6]
	r.Vendor = data[7]
	return nil
}

func (r Report) String() string {
	return fmt.Sprintf("buttons=%#04x hat=%d ls=(%d,%d) rs=(%d,%d)", r.Buttons, r.HAT, r.LX, r.LY, r.RX, r.RY)
}
