package script

import "fmt"

// external argument values understood by Next
const (
	nextInit   uint16 = 0
	nextBreak  uint16 = 1
	nextPreset uint16 = 2
)

func (m *Machine) step() {
	addr := m.ctx.PC
	head, err := m.store.Fetch(addr, 2)
	if err != nil {
		m.abort(err)
		return
	}
	code := head
	if n := Size(head[0], head[1]); n > 2 {
		if code, err = m.store.Fetch(addr, n); err != nil {
			m.abort(err)
			return
		}
	}
	in, err := Decode(code)
	if err != nil {
		m.abort(err)
		return
	}
	m.ctx.Addr = addr
	m.ctx.Op = [4]byte{}
	copy(m.ctx.Op[:], code)
	m.ctx.PC = addr + uint16(len(code))
	m.trace(in)

	ext, hasExt := m.ctx.takeExternal()
	switch in := in.(type) {
	case Key:
		if in.IsHAT() {
			m.sink.SetHAT(in.Code & 0xF)
		} else {
			m.sink.Press(1 << in.Code)
		}
		m.MarkDirty()
		m.hold(in.Code, in.Hold, ext, hasExt)
	case Stick:
		x, y := Direction(in.Dir)
		slot := uint8(LeftStickSlot)
		if in.Right {
			m.sink.SetRightStick(x, y)
			slot = RightStickSlot
		} else {
			m.sink.SetLeftStick(x, y)
		}
		m.MarkDirty()
		m.hold(slot, in.Hold, ext, hasExt)
	case Nop:
	case SerialPrint:
		m.print(in)
	case Wait:
		if hasExt {
			m.ctx.Timer.SetWait(m.duration(ext))
		} else {
			m.ctx.Timer.SetWait(in.Millis)
		}
	case For:
		m.execFor(in, ext, hasExt)
	case Next:
		m.execNext(in, ext, hasExt)
	case Compare:
		m.compare(in)
	case Break:
		if in.IfFlag && !m.ctx.Flag {
			return
		}
		m.leaveLoops(int(in.Levels), true)
	case Continue:
		if in.IfFlag && !m.ctx.Flag {
			return
		}
		m.leaveLoops(int(in.Levels), false)
	case Return:
		if in.IfFlag && !m.ctx.Flag {
			return
		}
		if ret, ok := m.ctx.Calls.Pop(); ok {
			m.jump(int(ret))
		} else {
			m.Stop()
		}
	case Mov:
		m.setReg(in.Reg, int16(in.Value))
	case BinaryImm:
		m.binary(in.Op, in.Reg, in.Value)
	case BinaryReg:
		m.binary(in.Op, in.Dst, m.ctx.Registers[in.Src&7])
	case Shift:
		m.shift(in)
	case Unary:
		m.unary(in)
	case Branch:
		m.branch(in)
	case Reserved:
		m.fault(fmt.Errorf("%w: % x", ErrReservedInstruction, in.Raw))
	}
}

// hold schedules the release of slot according to h, or to the duration held
// in the register named by a pending external argument.
func (m *Machine) hold(slot uint8, h Hold, ext uint16, hasExt bool) {
	switch {
	case hasExt:
		m.ctx.Timer.SetWait(m.duration(ext))
		m.ctx.Keys[slot] = 1
	case h.Mode == HoldStandard:
		m.ctx.Timer.SetWait(h.Value)
		m.ctx.Keys[slot] = 1
	case h.Mode == HoldCompressed:
		m.ctx.Timer.SetWait(CompressedWait)
		m.ctx.Timer.Defer(uint16(h.Value))
		m.ctx.Keys[slot] = 1
	default:
		m.ctx.Keys[slot] = uint8(h.Value)
	}
}

// duration reads a millisecond count from register r; negative values clamp to 0.
func (m *Machine) duration(r uint16) uint32 {
	v, ok := m.reg(r)
	if !ok || v < 0 {
		return 0
	}
	return uint32(v)
}

// reg reads the register named by an external argument.
func (m *Machine) reg(r uint16) (int16, bool) {
	if r >= RegisterCount {
		m.fault(fmt.Errorf("%w: %d", ErrBadRegister, r))
		return 0, false
	}
	return m.ctx.Registers[r], true
}

// setReg writes a register; register 0 is hard-wired to zero.
func (m *Machine) setReg(r uint8, v int16) {
	if r == 0 || r >= RegisterCount {
		return
	}
	m.ctx.Registers[r] = v
}

func (m *Machine) print(p SerialPrint) {
	if m.serial == nil {
		return
	}
	lo, hi := byte(p.Value), byte(p.Value>>8)
	if p.FromMemory {
		lo, hi = m.ctx.Peek(int(p.Value)), m.ctx.Peek(int(p.Value)+1)
	}
	_ = m.serial.WriteByte(lo)
	_ = m.serial.WriteByte(hi)
}

func (m *Machine) execFor(in For, ext uint16, hasExt bool) {
	if top := m.ctx.Loops.Top(); top != nil && top.Start == m.ctx.Addr {
		// jumped back from Next: the frame is live
		return
	}
	if !m.ctx.Loops.Push(Frame{Start: m.ctx.Addr, Next: in.Next}) {
		m.abort(ErrForStackOverflow)
		return
	}
	top := m.ctx.Loops.Top()
	if hasExt {
		sel, _ := m.reg(ext)
		if r := uint8(sel & 0xF); r != 0 {
			if r < RegisterCount {
				top.IterReg = r
			} else {
				m.fault(fmt.Errorf("%w: iterator %d", ErrBadRegister, r))
			}
		}
		if r := uint8(sel>>4) & 0xF; r != 0 {
			if bound, ok := m.reg(uint16(r)); ok {
				top.Bound = int32(bound)
				m.ctx.setExternal(nextPreset)
				m.jump(int(top.Next))
				return
			}
		}
	}
	m.ctx.setExternal(nextInit)
	m.jump(int(top.Next))
}

func (m *Machine) execNext(in Next, ext uint16, hasExt bool) {
	top := m.ctx.Loops.Top()
	if top == nil {
		m.abort(ErrForStackUnderflow)
		return
	}
	if hasExt {
		switch ext {
		case nextBreak:
			m.ctx.Loops.Pop()
			return
		case nextInit:
			top.Bound = in.Bound()
		case nextPreset:
		}
	} else if top.IterReg != 0 {
		m.ctx.Registers[top.IterReg]++
	} else {
		top.Counter++
	}

	n := top.Counter
	if top.IterReg != 0 {
		n = int32(m.ctx.Registers[top.IterReg])
	}
	if top.Bound != InfiniteBound && n >= top.Bound {
		m.ctx.Loops.Pop()
		return
	}
	m.jump(int(top.Start))
}

// leaveLoops discards levels loops and transfers control to the Next of the
// innermost remaining one, telling it to exit when exit is set.
func (m *Machine) leaveLoops(levels int, exit bool) {
	if !m.ctx.Loops.Drop(levels) {
		m.abort(ErrForStackUnderflow)
		return
	}
	top := m.ctx.Loops.Top()
	if top == nil {
		m.abort(ErrForStackUnderflow)
		return
	}
	if exit {
		m.ctx.setExternal(nextBreak)
	}
	m.jump(int(top.Next))
}

func (m *Machine) compare(c Compare) {
	a, b := m.ctx.Registers[c.A&7], m.ctx.Registers[c.B&7]
	var v bool
	switch c.Op {
	case CmpEqual:
		v = a == b
	case CmpNotEqual:
		v = a != b
	case CmpLess:
		v = a < b
	case CmpLessEqual:
		v = a <= b
	}
	switch c.Combine {
	case CombineAssign:
		m.ctx.Flag = v
	case CombineAnd:
		m.ctx.Flag = m.ctx.Flag && v
	case CombineOr:
		m.ctx.Flag = m.ctx.Flag || v
	case CombineXor:
		m.ctx.Flag = m.ctx.Flag != v
	}
}

func (m *Machine) binary(op BinaryOp, r uint8, v int16) {
	if r == 0 || r >= RegisterCount {
		return
	}
	reg := &m.ctx.Registers[r]
	switch op {
	case OpMov:
		*reg = v
	case OpAdd:
		*reg += v
	case OpMul:
		*reg *= v
	case OpDiv, OpMod:
		if v == 0 {
			m.fault(ErrDivideByZero)
			return
		}
		if op == OpDiv {
			*reg /= v
		} else {
			*reg %= v
		}
	case OpAnd:
		*reg &= v
	case OpOr:
		*reg |= v
	case OpXor:
		*reg ^= v
	}
}

func (m *Machine) shift(s Shift) {
	if s.Reg == 0 {
		return
	}
	if s.Right {
		m.ctx.Registers[s.Reg] >>= s.Amount
	} else {
		m.ctx.Registers[s.Reg] <<= s.Amount
	}
}

func (m *Machine) unary(u Unary) {
	r := u.Reg & 7
	switch u.Op {
	case OpNeg:
		m.setReg(r, -m.ctx.Registers[r])
	case OpNot:
		m.setReg(r, ^m.ctx.Registers[r])
	case OpPush:
		if !m.ctx.Stack.Push(m.ctx.Registers[r]) {
			m.fault(ErrStackOverflow)
		}
	case OpPop:
		if r == 0 {
			return
		}
		v, ok := m.ctx.Stack.Pop()
		if !ok {
			m.fault(ErrStackUnderflow)
		}
		m.ctx.Registers[r] = v
	case OpStoreOp:
		m.ctx.setExternal(uint16(r))
	case OpBool:
		if m.ctx.Registers[r] != 0 {
			m.setReg(r, 1)
		}
	case OpRand:
		m.random(r)
	default:
		m.fault(fmt.Errorf("%w: unary op %d", ErrReservedInstruction, u.Op))
	}
}

// random replaces REG(r) with a value in [0, REG(r)). A zero seed (fresh
// store) is replaced by the script clock the first time it is needed.
func (m *Machine) random(r uint8) {
	if r == 0 {
		return
	}
	bound := m.ctx.Registers[r]
	if bound == 0 {
		m.fault(ErrDivideByZero)
		return
	}
	if m.ctx.Seed == 0 {
		m.ctx.Seed = uint16(m.ctx.Timer.Clock)
		if err := m.store.SetSeed(m.ctx.Seed); err != nil {
			m.logger.Warn("persist seed", "error", err)
		}
		m.rng.Seed(int64(m.ctx.Seed))
	}
	// the dividend is non-negative, so the result lies in [0, |bound|)
	m.ctx.Registers[r] = int16(int32(m.rng.Int31n(1<<15)) % int32(bound))
}

func (m *Machine) branch(b Branch) {
	target := int(m.ctx.PC) + int(b.Offset)
	switch b.Cond {
	case BranchAlways:
		m.jump(target)
	case BranchIfTrue:
		if m.ctx.Flag {
			m.jump(target)
		}
	case BranchIfFalse:
		if !m.ctx.Flag {
			m.jump(target)
		}
	case BranchCall:
		if !m.ctx.Calls.Push(m.ctx.PC) {
			m.abort(ErrCallStackOverflow)
			return
		}
		m.jump(target)
	}
}

// jump moves the program counter; targets outside the program region end the run.
func (m *Machine) jump(addr int) {
	if addr < HeaderSize || addr >= m.store.Capacity() {
		m.abort(fmt.Errorf("%w: %d", ErrBadJump, addr))
		return
	}
	m.ctx.PC = uint16(addr)
}
