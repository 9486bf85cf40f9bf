package script

import (
	"errors"
	"fmt"
)

// ErrShortInstruction is returned when fewer bytes than the instruction needs are supplied.
var ErrShortInstruction = errors.New("short instruction")

// Instruction is one decoded bytecode instruction.
type Instruction interface {
	// Encode returns the 2 or 4 byte encoding.
	Encode() []byte
	String() string
}

// flow-control sub-opcodes, bits 6..3 of the first byte
const (
	subMisc     = 0b0000
	subWait     = 0b0001
	subFor      = 0b0010
	subNext     = 0b0011
	subLogic    = 0b0100
	subRegister = 0b0101
	subBranch   = 0b0110
)

// HoldMode says how long a key or stick stays active.
type HoldMode uint8

const (
	// HoldStandard blocks for Value milliseconds, then releases.
	HoldStandard HoldMode = iota
	// HoldCompressed blocks for CompressedWait, releases, then waits Value milliseconds.
	HoldCompressed
	// HoldSteps releases after Value VM iterations without blocking.
	HoldSteps
)

// CompressedWait is the fixed hold time of a compressed key instruction.
const CompressedWait = 50

// Hold is the post effect of a key or stick instruction.
type Hold struct {
	Mode  HoldMode
	Value uint32
}

func (h Hold) String() string {
	switch h.Mode {
	case HoldCompressed:
		return fmt.Sprintf("%dms+%dms", CompressedWait, h.Value)
	case HoldSteps:
		return fmt.Sprintf("hold %d", h.Value)
	default:
		return fmt.Sprintf("%dms", h.Value)
	}
}

// Key presses a button (Code 0..15) or moves the HAT (Code 16..31, direction Code&15).
type Key struct {
	Code uint8
	Hold Hold
}

// IsHAT reports whether the key drives the HAT switch.
func (k Key) IsHAT() bool { return k.Code&0x10 != 0 }

func (k Key) Encode() []byte {
	ins0 := 0x80 | (k.Code&0x1F)<<1
	var ins1 byte
	switch k.Hold.Mode {
	case HoldStandard:
		ins1 = byte(min(k.Hold.Value/10, 0xFF))
	case HoldCompressed:
		ins0 |= 1
		ins1 = byte(min(k.Hold.Value/50, 0x7F))
	case HoldSteps:
		ins0 |= 1
		ins1 = 0x80 | byte(k.Hold.Value&0x7F)
	}
	return []byte{ins0, ins1}
}

func (k Key) String() string {
	if k.IsHAT() {
		return fmt.Sprintf("HAT %d %s", k.Code&0xF, k.Hold)
	}
	return fmt.Sprintf("KEY %d %s", k.Code, k.Hold)
}

// Stick moves the left or right stick to one of the 32 directions.
type Stick struct {
	Right bool
	Dir   uint8
	Hold  Hold
}

func (s Stick) Encode() []byte {
	ins0 := 0xC0 | s.Dir&0x1F
	if s.Right {
		ins0 |= 0x20
	}
	var ins1 byte
	if s.Hold.Mode == HoldSteps {
		ins1 = 0x80 | byte(s.Hold.Value&0x7F)
	} else {
		ins1 = byte(min(s.Hold.Value/50, 0x7F))
	}
	return []byte{ins0, ins1}
}

func (s Stick) String() string {
	name := "LS"
	if s.Right {
		name = "RS"
	}
	return fmt.Sprintf("%s %d %s", name, s.Dir, s.Hold)
}

type Nop struct{}

func (Nop) Encode() []byte  { return []byte{0x00, 0x00} }
func (Nop) String() string { return "NOP" }

// SerialPrint sends a word to the serial link: either Value itself or the
// two bytes found at scratch address Value.
type SerialPrint struct {
	Value      uint16
	FromMemory bool
}

func (p SerialPrint) Encode() []byte {
	ins := uint16(subMisc)<<11 | 0b100<<8 | p.Value&0x1FF
	if p.FromMemory {
		ins |= 0b10 << 8
	}
	return word(ins)
}

func (p SerialPrint) String() string {
	if p.FromMemory {
		return fmt.Sprintf("PRINT [%d]", p.Value)
	}
	return fmt.Sprintf("PRINT %d", p.Value)
}

// WaitMode selects the encoding of a Wait.
type WaitMode uint8

const (
	WaitStandard WaitMode = iota
	WaitExtended
	WaitPrecise
)

// Wait blocks the VM for Millis milliseconds.
type Wait struct {
	Millis uint32
	Mode   WaitMode
}

func (w Wait) Encode() []byte {
	switch w.Mode {
	case WaitExtended:
		v := min(w.Millis/10, 1<<25-1)
		return dword(uint32(subWait)<<27 | 0b100<<24 | v)
	case WaitPrecise:
		return word(uint16(subWait)<<11 | 0b110<<8 | uint16(min(w.Millis, 0x1FF)))
	default:
		return word(uint16(subWait)<<11 | uint16(min(w.Millis/10, 0x3FF)))
	}
}

func (w Wait) String() string { return fmt.Sprintf("WAIT %dms", w.Millis) }

// For opens a loop; Next is the address of the matching Next instruction.
type For struct {
	Next uint16
}

func (f For) Encode() []byte {
	return word(uint16(subFor)<<11 | f.Next&0x7FF)
}

func (f For) String() string { return fmt.Sprintf("FOR next=%d", f.Next) }

// Next closes a loop. Count 0 on the short form means infinite.
type Next struct {
	Count    uint32
	Extended bool
}

// Bound returns the loop bound this Next initialises, InfiniteBound for endless loops.
func (n Next) Bound() int32 {
	if n.Extended {
		return int32(n.Count & (1<<26 - 1))
	}
	c := int32(n.Count & 0x3FF)
	if c == 0 {
		return InfiniteBound
	}
	return c
}

func (n Next) Encode() []byte {
	if n.Extended {
		return dword(uint32(subNext)<<27 | 0b100<<24 | n.Count&(1<<26-1))
	}
	return word(uint16(subNext)<<11 | uint16(n.Count&0x3FF))
}

func (n Next) String() string {
	if n.Bound() == InfiniteBound {
		return "NEXT inf"
	}
	return fmt.Sprintf("NEXT %d", n.Bound())
}

type CompareOp uint8

const (
	CmpEqual CompareOp = iota
	CmpNotEqual
	CmpLess
	CmpLessEqual
)

// Combine says how a comparison result is merged into the flag.
type Combine uint8

const (
	CombineAssign Combine = iota
	CombineAnd
	CombineOr
	CombineXor
)

var (
	compareNames = [...]string{"EQ", "NE", "LT", "LE"}
	combineNames = [...]string{"", " and", " or", " xor"}
)

// Compare evaluates REG(A) op REG(B) into the comparison flag.
type Compare struct {
	Op      CompareOp
	Combine Combine
	A, B    uint8
}

func (c Compare) Encode() []byte {
	ins0 := byte(subLogic)<<3 | 0b100 | byte(c.Op&3)
	ins1 := byte(c.Combine&3)<<6 | (c.A&7)<<3 | c.B&7
	return []byte{ins0, ins1}
}

func (c Compare) String() string {
	return fmt.Sprintf("%s r%d r%d%s", compareNames[c.Op&3], c.A, c.B, combineNames[c.Combine&3])
}

// Break leaves Levels extra loops and exits the innermost remaining one.
type Break struct {
	Levels uint8
	IfFlag bool
}

func (b Break) Encode() []byte { return logic(0b000, b.Levels, b.IfFlag) }

func (b Break) String() string { return gated("BREAK", b.Levels, b.IfFlag) }

// Continue leaves Levels loops and jumps to the Next of the remaining one.
type Continue struct {
	Levels uint8
	IfFlag bool
}

func (c Continue) Encode() []byte { return logic(0b001, c.Levels, c.IfFlag) }

func (c Continue) String() string { return gated("CONTINUE", c.Levels, c.IfFlag) }

// Return pops the call stack, or stops the script at top level.
type Return struct {
	IfFlag bool
}

func (r Return) Encode() []byte { return logic(0b111, 0, r.IfFlag) }

func (r Return) String() string {
	if r.IfFlag {
		return "RET if"
	}
	return "RET"
}

func logic(kind, levels uint8, ifFlag bool) []byte {
	ins1 := kind<<5 | levels&0xF
	if ifFlag {
		ins1 |= 0x10
	}
	return []byte{byte(subLogic) << 3, ins1}
}

func gated(name string, levels uint8, ifFlag bool) string {
	s := fmt.Sprintf("%s %d", name, levels)
	if ifFlag {
		s += " if"
	}
	return s
}

// Mov loads a 7-bit signed immediate into Reg (1..7).
type Mov struct {
	Reg   uint8
	Value int8
}

func (m Mov) Encode() []byte {
	ins := uint16(subRegister)<<11 | uint16(m.Reg&7)<<7 | uint16(uint8(m.Value)&0x7F)
	return word(ins)
}

func (m Mov) String() string { return fmt.Sprintf("MOV r%d %d", m.Reg, m.Value) }

type BinaryOp uint8

const (
	OpMov BinaryOp = iota
	OpAdd
	OpMul
	OpDiv
	OpMod
	OpAnd
	OpOr
	OpXor
)

var binaryNames = [...]string{"MOV", "ADD", "MUL", "DIV", "MOD", "AND", "OR", "XOR"}

func (o BinaryOp) String() string { return binaryNames[o&7] }

// BinaryImm applies Op with a 16-bit immediate (4-byte form).
type BinaryImm struct {
	Op    BinaryOp
	Reg   uint8
	Value int16
}

func (b BinaryImm) Encode() []byte {
	hi := uint16(subRegister)<<11 | uint16(b.Op&7)<<3 | uint16(b.Reg&7)
	return dword(uint32(hi)<<16 | uint32(uint16(b.Value)))
}

func (b BinaryImm) String() string { return fmt.Sprintf("%s r%d %d", b.Op, b.Reg, b.Value) }

// BinaryReg applies Op with the value of register Src.
type BinaryReg struct {
	Op       BinaryOp
	Dst, Src uint8
}

func (b BinaryReg) Encode() []byte {
	ins := uint16(subRegister)<<11 | 0b100<<8 | uint16(b.Op&7)<<6 | uint16(b.Dst&7)<<3 | uint16(b.Src&7)
	return word(ins)
}

func (b BinaryReg) String() string { return fmt.Sprintf("%s r%d r%d", b.Op, b.Dst, b.Src) }

// Shift shifts Reg left or (arithmetically) right.
type Shift struct {
	Reg    uint8
	Amount uint8
	Right  bool
}

func (s Shift) Encode() []byte {
	ins1 := (s.Reg&7)<<4 | s.Amount&0xF
	if s.Right {
		ins1 |= 0x80
	}
	return []byte{byte(subRegister)<<3 | 0b110, ins1}
}

func (s Shift) String() string {
	if s.Right {
		return fmt.Sprintf("SHR r%d %d", s.Reg, s.Amount)
	}
	return fmt.Sprintf("SHL r%d %d", s.Reg, s.Amount)
}

type UnaryOp uint8

const (
	OpNeg     UnaryOp = 2
	OpNot     UnaryOp = 3
	OpPush    UnaryOp = 4
	OpPop     UnaryOp = 5
	OpStoreOp UnaryOp = 7
	OpBool    UnaryOp = 8
	OpRand    UnaryOp = 9
)

func (o UnaryOp) String() string {
	switch o {
	case OpNeg:
		return "NEG"
	case OpNot:
		return "NOT"
	case OpPush:
		return "PUSH"
	case OpPop:
		return "POP"
	case OpStoreOp:
		return "STOREOP"
	case OpBool:
		return "BOOL"
	case OpRand:
		return "RAND"
	}
	return fmt.Sprintf("UNARY%d", uint8(o))
}

// Unary applies a single-register operation.
type Unary struct {
	Op  UnaryOp
	Reg uint8
}

func (u Unary) Encode() []byte {
	return []byte{byte(subRegister)<<3 | 0b111, byte(u.Op&0xF)<<3 | u.Reg&7}
}

func (u Unary) String() string { return fmt.Sprintf("%s r%d", u.Op, u.Reg) }

type BranchCond uint8

const (
	BranchAlways BranchCond = iota
	BranchIfTrue
	BranchIfFalse
	BranchCall
)

var branchNames = [...]string{"BR", "BRT", "BRF", "CALL"}

// Branch jumps Offset bytes relative to the following instruction.
// Offsets are even and lie in [-512, 510].
type Branch struct {
	Cond   BranchCond
	Offset int16
}

func (b Branch) Encode() []byte {
	ins := uint16(subBranch)<<11 | uint16(b.Cond&3)<<9 | uint16(b.Offset>>1)&0x1FF
	return word(ins)
}

func (b Branch) String() string { return fmt.Sprintf("%s %+d", branchNames[b.Cond&3], b.Offset) }

// Reserved is an encoding with no assigned meaning.
type Reserved struct {
	Raw []byte
}

func (r Reserved) Encode() []byte { return append([]byte(nil), r.Raw...) }

func (r Reserved) String() string { return fmt.Sprintf("DB % x", r.Raw) }

// Size returns the encoded length of the instruction starting with ins0, ins1.
func Size(ins0, ins1 byte) int {
	if ins0&0x80 != 0 {
		return 2
	}
	switch (ins0 >> 3) & 0xF {
	case subWait:
		if ins0&0b110 == 0b100 {
			return 4
		}
	case subNext:
		if ins0&0b100 != 0 {
			return 4
		}
	case subRegister:
		ins := uint16(ins0)<<8 | uint16(ins1)
		if ins0&0b100 == 0 && (ins>>7)&7 == 0 && ins1&0x40 == 0 {
			return 4
		}
	}
	return 2
}

// Decode decodes the instruction at the start of code.
func Decode(code []byte) (Instruction, error) {
	if len(code) < 2 {
		return nil, fmt.Errorf("need 2 bytes, have %d: %w", len(code), ErrShortInstruction)
	}
	ins0, ins1 := code[0], code[1]
	n := Size(ins0, ins1)
	if len(code) < n {
		return nil, fmt.Errorf("need %d bytes, have %d: %w", n, len(code), ErrShortInstruction)
	}
	ins := uint16(ins0)<<8 | uint16(ins1)
	var insEx uint32
	if n == 4 {
		insEx = uint32(ins)<<16 | uint32(code[2])<<8 | uint32(code[3])
	}

	if ins0&0x80 != 0 {
		if ins0&0x40 == 0 {
			k := Key{Code: (ins0 >> 1) & 0x1F}
			switch {
			case ins0&1 == 0:
				k.Hold = Hold{Mode: HoldStandard, Value: uint32(ins1) * 10}
			case ins1&0x80 == 0:
				k.Hold = Hold{Mode: HoldCompressed, Value: uint32(ins1&0x7F) * 50}
			default:
				k.Hold = Hold{Mode: HoldSteps, Value: uint32(ins1 & 0x7F)}
			}
			return k, nil
		}
		s := Stick{Right: ins0&0x20 != 0, Dir: ins0 & 0x1F}
		if ins1&0x80 == 0 {
			s.Hold = Hold{Mode: HoldStandard, Value: uint32(ins1&0x7F) * 50}
		} else {
			s.Hold = Hold{Mode: HoldSteps, Value: uint32(ins1 & 0x7F)}
		}
		return s, nil
	}

	switch (ins0 >> 3) & 0xF {
	case subMisc:
		if ins0&0b100 == 0 {
			return Nop{}, nil
		}
		return SerialPrint{Value: ins & 0x1FF, FromMemory: ins0&0b10 != 0}, nil
	case subWait:
		switch {
		case ins0&0b100 == 0:
			return Wait{Millis: uint32(ins&0x3FF) * 10, Mode: WaitStandard}, nil
		case ins0&0b10 == 0:
			return Wait{Millis: (insEx & (1<<25 - 1)) * 10, Mode: WaitExtended}, nil
		default:
			return Wait{Millis: uint32(ins & 0x1FF), Mode: WaitPrecise}, nil
		}
	case subFor:
		return For{Next: ins & 0x7FF}, nil
	case subNext:
		if ins0&0b100 != 0 {
			return Next{Count: insEx & (1<<26 - 1), Extended: true}, nil
		}
		return Next{Count: uint32(ins & 0x3FF)}, nil
	case subLogic:
		if ins0&0b100 != 0 {
			return Compare{
				Op:      CompareOp(ins0 & 3),
				Combine: Combine(ins1 >> 6),
				A:       (ins1 >> 3) & 7,
				B:       ins1 & 7,
			}, nil
		}
		levels, ifFlag := ins1&0xF, ins1&0x10 != 0
		switch ins1 >> 5 {
		case 0b000:
			return Break{Levels: levels, IfFlag: ifFlag}, nil
		case 0b001:
			return Continue{Levels: levels, IfFlag: ifFlag}, nil
		case 0b111:
			return Return{IfFlag: ifFlag}, nil
		}
	case subRegister:
		switch {
		case ins0&0b100 == 0:
			reg := uint8((ins >> 7) & 7)
			if reg != 0 {
				// 7-bit immediate, sign bit 6
				return Mov{Reg: reg, Value: int8(ins1<<1) >> 1}, nil
			}
			if ins1&0x40 == 0 {
				return BinaryImm{
					Op:    BinaryOp((ins >> 3) & 7),
					Reg:   uint8(ins & 7),
					Value: int16(uint16(insEx)),
				}, nil
			}
		case ins0&0b110 == 0b100:
			return BinaryReg{
				Op:  BinaryOp((ins >> 6) & 7),
				Dst: uint8((ins >> 3) & 7),
				Src: uint8(ins & 7),
			}, nil
		case ins0&0b111 == 0b110:
			return Shift{Reg: (ins1 >> 4) & 7, Amount: ins1 & 0xF, Right: ins1&0x80 != 0}, nil
		default:
			return Unary{Op: UnaryOp((ins1 >> 3) & 0xF), Reg: ins1 & 7}, nil
		}
	case subBranch:
		// 9-bit signed word offset
		off := int16(ins&0x1FF<<7) >> 6
		return Branch{Cond: BranchCond((ins0 >> 1) & 3), Offset: off}, nil
	}
	return Reserved{Raw: append([]byte(nil), code[:n]...)}, nil
}

// Assemble concatenates the encodings of ins.
func Assemble(ins ...Instruction) []byte {
	var out []byte
	for _, in := range ins {
		out = append(out, in.Encode()...)
	}
	return out
}

// NewImage prefixes program with its EOF header.
func NewImage(program []byte, autoStart bool) []byte {
	eof := uint16(HeaderSize+len(program)) & headerEOFMask
	if !autoStart {
		eof |= headerNoAutorun
	}
	return append([]byte{byte(eof), byte(eof >> 8)}, program...)
}

// Line is one disassembled instruction.
type Line struct {
	Addr  uint16
	Bytes []byte
	Ins   Instruction
	Text  string
}

func (l Line) String() string {
	return fmt.Sprintf("%04d  % -11x  %s", l.Addr, l.Bytes, l.Text)
}

// Disassemble decodes program, whose first byte lives at address base.
func Disassemble(program []byte, base uint16) ([]Line, error) {
	var lines []Line
	for off := 0; off < len(program); {
		addr := base + uint16(off)
		in, err := Decode(program[off:])
		if err != nil {
			return lines, fmt.Errorf("at %d: %w", addr, err)
		}
		n := Size(program[off], program[off+1])
		text := in.String()
		if b, ok := in.(Branch); ok {
			text += fmt.Sprintf("  ; -> %d", int(addr)+n+int(b.Offset))
		}
		lines = append(lines, Line{Addr: addr, Bytes: program[off : off+n], Ins: in, Text: text})
		off += n
	}
	return lines, nil
}

func word(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }

func dword(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
