package script

import "errors"

var (
	ErrStackOverflow       = errors.New("value stack overflow")
	ErrStackUnderflow      = errors.New("value stack underflow")
	ErrCallStackOverflow   = errors.New("call stack overflow")
	ErrForStackOverflow    = errors.New("for stack overflow")
	ErrForStackUnderflow   = errors.New("for stack underflow")
	ErrDivideByZero        = errors.New("division by zero")
	ErrBadRegister         = errors.New("register index out of range")
	ErrReservedInstruction = errors.New("reserved instruction")
	ErrBadJump             = errors.New("jump target outside program region")
)

// Faults summarises the runtime faults seen since boot.
type Faults struct {
	Count uint32
	// Last is the most recent fault, nil if none occurred.
	Last error
	// PC is the address of the instruction that raised Last.
	PC uint16
	// Aborted is set when Last stopped the script.
	Aborted bool
}
