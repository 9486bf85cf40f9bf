package report

import "github.com/Alia5/easycon/script"

// Button bits of the emulated pad.
const (
	ButtonY       uint16 = 0x0001
	ButtonB       uint16 = 0x0002
	ButtonA       uint16 = 0x0004
	ButtonX       uint16 = 0x0008
	ButtonL       uint16 = 0x0010
	ButtonR       uint16 = 0x0020
	ButtonZL      uint16 = 0x0040
	ButtonZR      uint16 = 0x0080
	ButtonMinus   uint16 = 0x0100
	ButtonPlus    uint16 = 0x0200
	ButtonLClick  uint16 = 0x0400
	ButtonRClick  uint16 = 0x0800
	ButtonHome    uint16 = 0x1000
	ButtonCapture uint16 = 0x2000
)

// HAT directions.
const (
	HATTop         = script.HATTop
	HATTopRight    = script.HATTopRight
	HATRight       = script.HATRight
	HATBottomRight = script.HATBottomRight
	HATBottom      = script.HATBottom
	HATBottomLeft  = script.HATBottomLeft
	HATLeft        = script.HATLeft
	HATTopLeft     = script.HATTopLeft
	HATCenter      = script.HATCenter
)

const (
	StickMin    = script.StickMin
	StickCenter = script.StickCenter
	StickMax    = script.StickMax
)
