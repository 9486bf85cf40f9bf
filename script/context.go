package script

import "math"

const (
	RegisterCount  = 8
	KeySlots       = 34
	StackSize      = 25
	CallStackSize  = 30
	ForStackSize   = 10
	LeftStickSlot  = 32
	RightStickSlot = 33

	// InfiniteBound marks a loop without an upper bound.
	InfiniteBound int32 = math.MinInt32
)

// Flat scratch layout, as seen by SerialPrint in memory mode.
const (
	SerialBufferOffset = 0
	DirectionOffset    = 20
	KeyOffset          = 90
	RegisterOffset     = 130
	StackOffset        = 180
	CallStackOffset    = 230
	ForStackOffset     = 290
	ScratchOffset      = 410
	ScratchSize        = ScratchOffset + 25

	forFrameSize = 12
)

// Stack is a fixed-capacity LIFO that never grows past its limit.
type Stack[T any] struct {
	items []T
}

func NewStack[T any](limit int) Stack[T] {
	return Stack[T]{items: make([]T, 0, limit)}
}

func (s *Stack[T]) Len() int { return len(s.items) }

func (s *Stack[T]) Cap() int { return cap(s.items) }

// Push reports false when the stack is full.
func (s *Stack[T]) Push(v T) bool {
	if len(s.items) == cap(s.items) {
		return false
	}
	s.items = append(s.items, v)
	return true
}

func (s *Stack[T]) Pop() (T, bool) {
	var zero T
	if len(s.items) == 0 {
		return zero, false
	}
	v := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return v, true
}

// Top returns a pointer to the top element, nil when empty.
func (s *Stack[T]) Top() *T {
	if len(s.items) == 0 {
		return nil
	}
	return &s.items[len(s.items)-1]
}

// Drop removes n elements; it reports false (removing nothing) if fewer are present.
func (s *Stack[T]) Drop(n int) bool {
	if n > len(s.items) {
		return false
	}
	s.items = s.items[:len(s.items)-n]
	return true
}

// At returns element i counted from the bottom.
func (s *Stack[T]) At(i int) T {
	return s.items[i]
}

func (s *Stack[T]) Reset() { s.items = s.items[:0] }

// Frame is one active For loop.
type Frame struct {
	// Counter is the hidden loop variable, used when IterReg is 0.
	Counter int32
	// IterReg names the register acting as loop variable.
	IterReg uint8
	Bound   int32
	Start   uint16
	Next    uint16
}

// Raw returns the loop variable word as reported by the debug command.
func (f Frame) Raw() uint32 {
	if f.IterReg != 0 {
		return 0x80000000 | uint32(f.IterReg)
	}
	return uint32(f.Counter)
}

// Context is the complete execution state of a script.
type Context struct {
	Registers [RegisterCount]int16
	Stack     Stack[int16]
	Calls     Stack[uint16]
	Loops     Stack[Frame]
	Keys      [KeySlots]uint8
	Flag      bool
	Timer     Timer

	PC      uint16
	EOF     uint16
	Elapsed uint32
	Echo    int
	Seed    uint16

	// last fetched instruction
	Addr uint16
	Op   [4]byte

	ext    uint16
	hasExt bool
}

func newContext() Context {
	return Context{
		Stack: NewStack[int16](StackSize),
		Calls: NewStack[uint16](CallStackSize),
		Loops: NewStack[Frame](ForStackSize),
	}
}

// reset clears the variable space the way a fresh start expects it.
func (c *Context) reset() {
	c.Registers = [RegisterCount]int16{}
	c.Stack.Reset()
	c.Calls.Reset()
	c.Loops.Reset()
	c.Keys = [KeySlots]uint8{}
	c.Flag = false
	c.Echo = 0
	c.Addr = 0
	c.Op = [4]byte{}
	c.ext, c.hasExt = 0, false
}

// setExternal passes an argument to the next instruction.
func (c *Context) setExternal(v uint16) {
	c.ext, c.hasExt = v, true
}

// takeExternal consumes the pending argument.
func (c *Context) takeExternal() (uint16, bool) {
	v, ok := c.ext, c.hasExt
	c.ext, c.hasExt = 0, false
	return v, ok
}

// Peek returns the byte at addr of the flat scratch view. The serial staging
// buffer is owned by the dispatcher and reads as zero here; addresses past the
// scratch area read as zero too.
func (c *Context) Peek(addr int) byte {
	switch {
	case addr < DirectionOffset:
		return 0
	case addr < KeyOffset:
		i := addr - DirectionOffset
		if i >= DirectionCount*2 {
			return 0
		}
		return directions[i/2][i%2]
	case addr < RegisterOffset:
		i := addr - KeyOffset
		if i >= KeySlots {
			return 0
		}
		return c.Keys[i]
	case addr < StackOffset:
		i := addr - RegisterOffset
		if i >= RegisterCount*2 {
			return 0
		}
		return le16(uint16(c.Registers[i/2]), i%2)
	case addr < CallStackOffset:
		i := addr - StackOffset
		if i/2 >= c.Stack.Len() {
			return 0
		}
		return le16(uint16(c.Stack.At(i/2)), i%2)
	case addr < ForStackOffset:
		i := addr - CallStackOffset
		if i/2 >= c.Calls.Len() {
			return 0
		}
		return le16(c.Calls.At(i/2), i%2)
	case addr < ScratchOffset:
		i := addr - ForStackOffset
		if i/forFrameSize >= c.Loops.Len() {
			return 0
		}
		f := c.Loops.At(i / forFrameSize)
		switch j := i % forFrameSize; {
		case j < 4:
			return le32(f.Raw(), j)
		case j < 8:
			return le32(uint32(f.Bound), j-4)
		case j < 10:
			return le16(f.Start, j-8)
		default:
			return le16(f.Next, j-10)
		}
	case addr < ScratchSize:
		return c.peekScratch(addr - ScratchOffset)
	}
	return 0
}

func (c *Context) peekScratch(i int) byte {
	switch {
	case i < 4:
		return c.Op[3-i]
	case i == 8, i == 9:
		return le16(c.Addr, i-8)
	case i == 10:
		return byte(c.Stack.Len())
	case i == 11:
		return byte(c.Calls.Len())
	case i == 12:
		return byte(c.Loops.Len())
	case i == 13:
		return byte(c.Echo)
	case i == 14:
		return b2u(c.hasExt)
	case i == 16, i == 17:
		return le16(c.ext, i-16)
	case i == 22:
		return b2u(c.Flag)
	case i == 23, i == 24:
		return le16(c.Seed, i-23)
	}
	return 0
}

func le16(v uint16, i int) byte { return byte(v >> (8 * i)) }

func le32(v uint32, i int) byte { return byte(v >> (8 * i)) }

func b2u(b bool) byte {
	if b {
		return 1
	}
	return 0
}
