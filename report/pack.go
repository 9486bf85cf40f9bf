package report

import (
	"errors"
	"fmt"
)

var ErrFrame = errors.New("malformed packed report")

// PackedSize is the length of a report sent over the serial link.
const PackedSize = 8

// Pack encodes r for the serial link: 56 bits (buttons, HAT, four stick
// axes) spread over the low 7 bits of eight bytes. Bit 7 is only set on the
// last byte, which terminates the frame. Vendor is not transmitted.
func Pack(r Report) [PackedSize]byte {
	var b [PackedSize]byte
	b[0] = byte(r.Buttons>>9) & 0x7F
	b[1] = byte(r.Buttons>>2) & 0x7F
	b[2] = byte(r.Buttons&3)<<5 | r.HAT>>3
	b[3] = (r.HAT&7)<<4 | r.LX>>4
	b[4] = (r.LX&0xF)<<3 | r.LY>>5
	b[5] = (r.LY&0x1F)<<2 | r.RX>>6
	b[6] = (r.RX&0x3F)<<1 | r.RY>>7
	b[7] = 0x80 | r.RY&0x7F
	return b
}

// CheckFrame rejects frames Pack can not produce. Unpack would fold a stray
// bit 7 into the neighbouring field.
func CheckFrame(b [PackedSize]byte) error {
	for i, v := range b[:PackedSize-1] {
		if v&0x80 != 0 {
			return fmt.Errorf("%w: byte %d has bit 7 set", ErrFrame, i)
		}
	}
	if b[PackedSize-1]&0x80 == 0 {
		return fmt.Errorf("%w: last byte lacks bit 7", ErrFrame)
	}
	return nil
}

// Unpack decodes a serial frame produced by Pack.
func Unpack(b [PackedSize]byte) Report {
	return Report{
		Buttons: uint16(b[0])<<9 | uint16(b[1])<<2 | uint16(b[2]>>5),
		HAT:     b[2]<<3 | b[3]>>4,
		LX:      b[3]<<4 | b[4]>>3,
		LY:      b[4]<<5 | b[5]>>2,
		RX:      b[5]<<6 | b[6]>>1,
		RY:      b[6]<<7 | b[7]&0x7F,
	}
}
