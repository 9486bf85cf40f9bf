package protocol

// Command bytes. Every command byte has bit 7 set.
const (
	CmdReady       byte = 0xA5
	CmdDebug       byte = 0x80
	CmdHello       byte = 0x81
	CmdFlash       byte = 0x82
	CmdScriptStart byte = 0x83
	CmdScriptStop  byte = 0x84
	CmdVersion     byte = 0x85
	// CmdLED is refused with ReplyError; there is no LED to drive.
	CmdLED         byte = 0x86
)

// Reply bytes.
const (
	ReplyError      byte = 0x00
	ReplyAck        byte = 0xFF
	ReplyBusy       byte = 0xFE
	ReplyHello      byte = 0x80
	ReplyFlashStart byte = 0x81
	ReplyFlashEnd   byte = 0x82
	ReplyScriptAck  byte = 0x83
)

const (
	// Version is the firmware protocol version reported by CmdVersion.
	Version byte = 0x46
	// BufferSize is the capacity of the staging buffer; longer interactions are discarded.
	BufferSize = 20
	// DebugSize is the length of the CmdDebug reply.
	DebugSize = 10

	controlBit byte = 0x80
	// flash parameters are two 14-bit numbers in 7-bit groups
	flashParams  = 4
	maxFlashWord = 1<<14 - 1
)
