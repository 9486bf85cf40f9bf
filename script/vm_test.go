package script_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alia5/easycon/script"
)

type recordingSink struct {
	buttons uint16
	hat     uint8
	lx, ly  uint8
	rx, ry  uint8
	resets  int
	resends int
}

func newRecordingSink() *recordingSink {
	s := &recordingSink{}
	s.Reset()
	s.resets = 0
	return s
}

func (s *recordingSink) Reset() {
	s.buttons, s.hat = 0, script.HATCenter
	s.lx, s.ly, s.rx, s.ry = script.StickCenter, script.StickCenter, script.StickCenter, script.StickCenter
	s.resets++
}
func (s *recordingSink) SetButtons(mask uint16)   { s.buttons = mask }
func (s *recordingSink) Press(mask uint16)        { s.buttons |= mask }
func (s *recordingSink) Release(mask uint16)      { s.buttons &^= mask }
func (s *recordingSink) SetHAT(dir uint8)         { s.hat = dir }
func (s *recordingSink) SetLeftStick(x, y uint8)  { s.lx, s.ly = x, y }
func (s *recordingSink) SetRightStick(x, y uint8) { s.rx, s.ry = x, y }
func (s *recordingSink) Resend(times int)         { s.resends++ }

func (s *recordingSink) isDefault() bool {
	return s.buttons == 0 && s.hat == script.HATCenter &&
		s.lx == script.StickCenter && s.ly == script.StickCenter &&
		s.rx == script.StickCenter && s.ry == script.StickCenter
}

type harness struct {
	m     *script.Machine
	sink  *recordingSink
	store *script.Store
	now   int
}

func newHarness(t *testing.T, program []byte, opts ...script.Option) *harness {
	t.Helper()
	store, _ := newStore(script.DefaultCapacity)
	require.NoError(t, store.Write(0, script.NewImage(program, false)))
	sink := newRecordingSink()
	opts = append([]script.Option{script.WithEchoTimes(0)}, opts...)
	m := script.NewMachine(store, sink, opts...)
	require.NoError(t, m.Boot())
	return &harness{m: m, sink: sink, store: store}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.m.Start())
	h.m.Run()
}

// advance runs the machine for ms milliseconds of simulated time.
func (h *harness) advance(ms int) {
	for i := 0; i < ms; i++ {
		h.m.Tick()
		h.now++
		for h.m.Run() {
		}
	}
}

func TestGoldenKeyPress(t *testing.T) {
	h := newHarness(t, []byte{0x80, 0x0A})
	h.start(t)

	assert.Equal(t, uint16(1), h.sink.buttons)
	assert.True(t, h.m.Running())

	h.advance(99)
	assert.Equal(t, uint16(1), h.sink.buttons, "still held at t=99")

	h.advance(1)
	assert.Zero(t, h.sink.buttons, "released at t=100")
	assert.False(t, h.m.Running())
	assert.True(t, h.sink.isDefault())
}

func TestCompressedKeyWaitsTail(t *testing.T) {
	h := newHarness(t, script.Assemble(
		script.Key{Code: 16 | script.HATRight, Hold: script.Hold{Mode: script.HoldCompressed, Value: 100}},
	))
	h.start(t)
	assert.Equal(t, script.HATRight, h.sink.hat)

	h.advance(50)
	assert.Equal(t, script.HATCenter, h.sink.hat)
	assert.True(t, h.m.Running())

	h.advance(99)
	assert.True(t, h.m.Running())
	h.advance(1)
	assert.False(t, h.m.Running())
}

func TestHoldStepsReleasesWithoutBlocking(t *testing.T) {
	h := newHarness(t, script.Assemble(
		script.Key{Code: 1, Hold: script.Hold{Mode: script.HoldSteps, Value: 2}},
		script.Wait{Millis: 10},
		script.Wait{Millis: 10},
	))
	h.start(t)
	assert.Equal(t, uint16(2), h.sink.buttons)

	h.advance(5)
	assert.Equal(t, uint16(2), h.sink.buttons)

	h.advance(5)
	assert.Zero(t, h.sink.buttons)
	assert.True(t, h.m.Running())
}

func TestStickReturnsToCenter(t *testing.T) {
	h := newHarness(t, script.Assemble(
		script.Stick{Dir: 8, Hold: script.Hold{Mode: script.HoldStandard, Value: 50}},
		script.Wait{Millis: 10},
	))
	h.start(t)
	assert.Equal(t, uint8(255), h.sink.lx)
	assert.Equal(t, uint8(0), h.sink.ly)

	h.advance(50)
	assert.Equal(t, script.StickCenter, h.sink.lx)
	assert.Equal(t, script.StickCenter, h.sink.ly)
	assert.True(t, h.m.Running())
}

func TestEchoHoldsLastMillisecond(t *testing.T) {
	h := newHarness(t, []byte{0x80, 0x01}, script.WithEchoTimes(3))
	h.start(t)

	h.advance(20)
	assert.Equal(t, uint16(1), h.sink.buttons, "held until the report was echoed")
	assert.Equal(t, uint32(1), h.m.State().Wait)

	h.m.ReportSent()
	h.m.ReportSent()
	h.advance(1)
	assert.Equal(t, uint16(1), h.sink.buttons)

	h.m.ReportSent()
	h.advance(1)
	assert.Zero(t, h.sink.buttons)
}

func TestStopYieldsDefaultReport(t *testing.T) {
	h := newHarness(t, script.Assemble(
		script.Key{Code: 3, Hold: script.Hold{Mode: script.HoldStandard, Value: 1000}},
		script.Stick{Right: true, Dir: 16, Hold: script.Hold{Mode: script.HoldSteps, Value: 10}},
	))
	h.start(t)
	require.False(t, h.sink.isDefault())

	h.m.Stop()
	assert.True(t, h.sink.isDefault())
	assert.False(t, h.m.Running())
}

func TestStopIdempotent(t *testing.T) {
	h := newHarness(t, []byte{0x80, 0x0A})
	h.start(t)
	h.advance(10)

	h.m.Stop()
	first := h.m.Debug()
	resets := h.sink.resets

	h.m.Stop()
	assert.Equal(t, first, h.m.Debug())
	assert.Equal(t, resets+1, h.sink.resets)
	assert.True(t, h.sink.isDefault())
	assert.False(t, h.m.Running())
	assert.Equal(t, uint32(10), first.Elapsed)
}

func TestForNextRunsBodyN(t *testing.T) {
	h := newHarness(t, script.Assemble(
		script.For{Next: 8},                                // 2
		script.BinaryImm{Op: script.OpAdd, Reg: 1, Value: 1}, // 4
		script.Next{Count: 5},                              // 8
	))
	h.start(t)

	st := h.m.State()
	assert.False(t, st.Running)
	assert.Equal(t, int16(5), st.Registers[1])
	assert.Zero(t, st.Loops)
	assert.Zero(t, h.m.Faults().Count)
}

func TestExtendedNextZeroSkipsBody(t *testing.T) {
	h := newHarness(t, script.Assemble(
		script.For{Next: 6},                 // 2
		script.Mov{Reg: 1, Value: 1},        // 4
		script.Next{Extended: true},         // 6
		script.Mov{Reg: 2, Value: 1},        // 10
	))
	h.start(t)

	st := h.m.State()
	assert.Zero(t, st.Registers[1])
	assert.Equal(t, int16(1), st.Registers[2])
}

func TestInfiniteLoopUntilBreak(t *testing.T) {
	h := newHarness(t, script.Assemble(
		script.For{Next: 14},                                  // 2
		script.BinaryImm{Op: script.OpAdd, Reg: 1, Value: 1},    // 4
		script.Mov{Reg: 2, Value: 3},                          // 8
		script.Compare{Op: script.CmpEqual, A: 1, B: 2},       // 10
		script.Break{IfFlag: true},                            // 12
		script.Next{},                                         // 14
		script.Mov{Reg: 3, Value: 7},                          // 16
	))
	h.start(t)

	st := h.m.State()
	assert.False(t, st.Running)
	assert.Equal(t, int16(3), st.Registers[1])
	assert.Equal(t, int16(7), st.Registers[3])
	assert.Zero(t, st.Loops)
}

func TestContinueSkipsRestOfBody(t *testing.T) {
	h := newHarness(t, script.Assemble(
		script.For{Next: 12},                                  // 2
		script.BinaryImm{Op: script.OpAdd, Reg: 1, Value: 1},    // 4
		script.Continue{},                                     // 8
		script.Mov{Reg: 2, Value: 1},                          // 10
		script.Next{Count: 3},                                 // 12
	))
	h.start(t)

	st := h.m.State()
	assert.Equal(t, int16(3), st.Registers[1])
	assert.Zero(t, st.Registers[2])
}

func TestForWithRegisterIteratorAndCount(t *testing.T) {
	h := newHarness(t, script.Assemble(
		script.Mov{Reg: 1, Value: 0},                          // 2
		script.Mov{Reg: 2, Value: 3},                          // 4
		script.Mov{Reg: 3, Value: 0x21},                       // 6 iterator r1, count r2
		script.Unary{Op: script.OpStoreOp, Reg: 3},            // 8
		script.For{Next: 16},                                  // 10
		script.BinaryImm{Op: script.OpAdd, Reg: 4, Value: 1},    // 12
		script.Next{},                                         // 16
	))
	h.start(t)

	st := h.m.State()
	assert.Equal(t, int16(3), st.Registers[1])
	assert.Equal(t, int16(3), st.Registers[4])
	assert.Zero(t, st.Loops)
}

func TestNestedBreakLeavesBothLoops(t *testing.T) {
	h := newHarness(t, script.Assemble(
		script.For{Next: 12},                                  // 2
		script.For{Next: 10},                                  // 4
		script.Mov{Reg: 1, Value: 9},                          // 6
		script.Break{Levels: 1},                               // 8
		script.Next{},                                         // 10
		script.Next{},                                         // 12
		script.Mov{Reg: 2, Value: 1},                          // 14
	))
	h.start(t)

	st := h.m.State()
	assert.False(t, st.Running)
	assert.Equal(t, int16(9), st.Registers[1])
	assert.Equal(t, int16(1), st.Registers[2])
	assert.Zero(t, st.Loops)
	assert.Zero(t, h.m.Faults().Count)
}

func TestCallReturn(t *testing.T) {
	h := newHarness(t, script.Assemble(
		script.Branch{Cond: script.BranchCall, Offset: 4}, // 2 -> 8
		script.Mov{Reg: 2, Value: 9},                      // 4
		script.Return{},                                   // 6
		script.Mov{Reg: 1, Value: 5},                      // 8
		script.Return{},                                   // 10
	))
	h.start(t)

	st := h.m.State()
	assert.False(t, st.Running)
	assert.Equal(t, int16(5), st.Registers[1])
	assert.Equal(t, int16(9), st.Registers[2])
	assert.Zero(t, st.Calls)
	assert.Zero(t, h.m.Faults().Count)
	assert.Equal(t, uint16(8), st.PC, "top-level return stops after the return instruction")
}

func TestCallStackOverflowStops(t *testing.T) {
	h := newHarness(t, script.Assemble(
		script.Branch{Cond: script.BranchCall, Offset: -2},
	))
	h.start(t)

	f := h.m.Faults()
	assert.False(t, h.m.Running())
	assert.ErrorIs(t, f.Last, script.ErrCallStackOverflow)
	assert.True(t, f.Aborted)
	assert.Equal(t, uint32(1), f.Count)
	assert.Equal(t, script.CallStackSize, h.m.State().Calls)
}

func TestValueStackOverflowIgnored(t *testing.T) {
	program := []script.Instruction{script.Mov{Reg: 1, Value: 3}}
	for i := 0; i < script.StackSize+1; i++ {
		program = append(program, script.Unary{Op: script.OpPush, Reg: 1})
	}
	program = append(program, script.Mov{Reg: 2, Value: 1})

	h := newHarness(t, script.Assemble(program...))
	h.start(t)

	f := h.m.Faults()
	st := h.m.State()
	assert.Equal(t, uint32(1), f.Count)
	assert.ErrorIs(t, f.Last, script.ErrStackOverflow)
	assert.False(t, f.Aborted)
	assert.Equal(t, script.StackSize, st.Stack)
	assert.Equal(t, int16(1), st.Registers[2], "execution continues past the dropped push")
}

func TestForStackOverflowStops(t *testing.T) {
	const depth = script.ForStackSize + 1
	// FORs at 2,4,..,22 each paired with a NEXT mirrored at 24..44
	program := make([]script.Instruction, 0, 2*depth)
	for i := 0; i < depth; i++ {
		program = append(program, script.For{Next: uint16(script.HeaderSize + 4*depth - 2 - 2*i)})
	}
	for i := 0; i < depth; i++ {
		program = append(program, script.Next{Count: 3})
	}

	h := newHarness(t, script.Assemble(program...))
	h.start(t)

	f := h.m.Faults()
	assert.Equal(t, uint32(1), f.Count)
	assert.ErrorIs(t, f.Last, script.ErrForStackOverflow)
	assert.True(t, f.Aborted)
	assert.False(t, h.m.Running())
	assert.Equal(t, script.ForStackSize, h.m.State().Loops)
	assert.True(t, h.sink.isDefault())
}

func TestBadJumpStops(t *testing.T) {
	h := newHarness(t, script.Assemble(
		script.Branch{Cond: script.BranchAlways, Offset: -4},
	))
	h.start(t)

	assert.False(t, h.m.Running())
	assert.ErrorIs(t, h.m.Faults().Last, script.ErrBadJump)
}

func TestRecoverableFaults(t *testing.T) {
	type testCase struct {
		name    string
		program []script.Instruction
		reg     int
		want    int16
		err     error
	}

	cases := []testCase{
		{
			name: "divide by zero keeps register",
			program: []script.Instruction{
				script.Mov{Reg: 1, Value: 7},
				script.BinaryImm{Op: script.OpDiv, Reg: 1, Value: 0},
			},
			reg: 1, want: 7, err: script.ErrDivideByZero,
		},
		{
			name: "modulo by zero register",
			program: []script.Instruction{
				script.Mov{Reg: 1, Value: 7},
				script.BinaryReg{Op: script.OpMod, Dst: 1, Src: 2},
			},
			reg: 1, want: 7, err: script.ErrDivideByZero,
		},
		{
			name: "pop on empty stack yields zero",
			program: []script.Instruction{
				script.Mov{Reg: 1, Value: 5},
				script.Unary{Op: script.OpPop, Reg: 1},
			},
			reg: 1, want: 0, err: script.ErrStackUnderflow,
		},
		{
			name: "rand with zero bound",
			program: []script.Instruction{
				script.Unary{Op: script.OpRand, Reg: 3},
			},
			reg: 3, want: 0, err: script.ErrDivideByZero,
		},
		{
			name: "reserved instruction",
			program: []script.Instruction{
				script.Reserved{Raw: []byte{0x78, 0x00}},
				script.Mov{Reg: 1, Value: 1},
			},
			reg: 1, want: 1, err: script.ErrReservedInstruction,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, script.Assemble(tc.program...))
			h.start(t)

			f := h.m.Faults()
			assert.ErrorIs(t, f.Last, tc.err)
			assert.False(t, f.Aborted)
			assert.Equal(t, uint32(1), f.Count)
			assert.Equal(t, tc.want, h.m.State().Registers[tc.reg])
		})
	}
}

func TestRegisterZeroIsInert(t *testing.T) {
	h := newHarness(t, script.Assemble(
		script.BinaryImm{Op: script.OpMov, Reg: 0, Value: 99},
		script.Unary{Op: script.OpNeg, Reg: 0},
		script.Shift{Reg: 0, Amount: 1},
	))
	h.start(t)
	assert.Zero(t, h.m.State().Registers[0])
}

func TestArithmetic(t *testing.T) {
	h := newHarness(t, script.Assemble(
		script.Mov{Reg: 1, Value: 10},
		script.Mov{Reg: 2, Value: -3},
		script.BinaryReg{Op: script.OpMul, Dst: 1, Src: 2},   // -30
		script.BinaryImm{Op: script.OpAdd, Reg: 1, Value: 2}, // -28
		script.Shift{Reg: 1, Amount: 2, Right: true},         // -7
		script.Mov{Reg: 3, Value: 1},
		script.Shift{Reg: 3, Amount: 4},                      // 16
		script.Unary{Op: script.OpNot, Reg: 3},               // -17
		script.Mov{Reg: 4, Value: 5},
		script.Unary{Op: script.OpPush, Reg: 4},
		script.Unary{Op: script.OpBool, Reg: 4},              // 1
		script.Unary{Op: script.OpPop, Reg: 5},               // 5
	))
	h.start(t)

	regs := h.m.State().Registers
	assert.Equal(t, int16(-7), regs[1])
	assert.Equal(t, int16(-17), regs[3])
	assert.Equal(t, int16(1), regs[4])
	assert.Equal(t, int16(5), regs[5])
	assert.Zero(t, h.m.Faults().Count)
}

func TestCompareCombine(t *testing.T) {
	h := newHarness(t, script.Assemble(
		script.Mov{Reg: 1, Value: 1},
		script.Mov{Reg: 2, Value: 2},
		script.Compare{Op: script.CmpLess, A: 1, B: 2},                              // true
		script.Compare{Op: script.CmpEqual, Combine: script.CombineAnd, A: 1, B: 2}, // false
		script.Compare{Op: script.CmpLessEqual, Combine: script.CombineOr, A: 1, B: 1},
		script.Branch{Cond: script.BranchIfFalse, Offset: 2},
		script.Mov{Reg: 3, Value: 1},
		script.Compare{Op: script.CmpNotEqual, Combine: script.CombineXor, A: 1, B: 2}, // flips to false
		script.Branch{Cond: script.BranchIfTrue, Offset: 2},
		script.Mov{Reg: 4, Value: 1},
	))
	h.start(t)

	regs := h.m.State().Registers
	assert.Equal(t, int16(1), regs[3])
	assert.Equal(t, int16(1), regs[4])
	assert.False(t, h.m.State().Flag)
}

func TestWaitFromRegister(t *testing.T) {
	h := newHarness(t, script.Assemble(
		script.Mov{Reg: 1, Value: 30},
		script.Unary{Op: script.OpStoreOp, Reg: 1},
		script.Wait{Millis: 1000},
		script.Mov{Reg: 2, Value: 1},
		script.Wait{Millis: 1000},
	))
	h.start(t)

	h.advance(29)
	assert.Zero(t, h.m.State().Registers[2])
	h.advance(1)
	assert.Equal(t, int16(1), h.m.State().Registers[2])
}

func TestNegativeRegisterDurationClamps(t *testing.T) {
	h := newHarness(t, script.Assemble(
		script.Mov{Reg: 1, Value: -5},
		script.Unary{Op: script.OpStoreOp, Reg: 1},
		script.Wait{},
		script.Mov{Reg: 2, Value: 1},
	))
	h.start(t)

	assert.False(t, h.m.Running())
	assert.Equal(t, int16(1), h.m.State().Registers[2])
}

func TestRandWithinBound(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := newHarness(t, script.Assemble(
			script.BinaryImm{Op: script.OpMov, Reg: 1, Value: 10},
			script.Unary{Op: script.OpRand, Reg: 1},
		))
		h.start(t)
		v := h.m.State().Registers[1]
		assert.GreaterOrEqual(t, v, int16(0))
		assert.Less(t, v, int16(10))
	}
}

func TestBootBumpsSeed(t *testing.T) {
	store, _ := newStore(script.DefaultCapacity)
	require.NoError(t, store.SetSeed(41))

	m := script.NewMachine(store, newRecordingSink())
	require.NoError(t, m.Boot())

	seed, err := store.Seed()
	require.NoError(t, err)
	assert.Equal(t, uint16(42), seed)
}

func TestAutoStart(t *testing.T) {
	type testCase struct {
		name  string
		image []byte
		want  bool
	}

	cases := []testCase{
		{name: "flag clear", image: script.NewImage([]byte{0x08, 0x0A}, true), want: true},
		{name: "flag set", image: script.NewImage([]byte{0x08, 0x0A}, false), want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, _ := newStore(script.DefaultCapacity)
			require.NoError(t, store.Write(0, tc.image))
			m := script.NewMachine(store, newRecordingSink())
			require.NoError(t, m.Boot())
			require.NoError(t, m.AutoStart())
			assert.Equal(t, tc.want, m.Running())
		})
	}
}

func TestEmptyStoreStopsImmediately(t *testing.T) {
	store, _ := newStore(script.DefaultCapacity)
	m := script.NewMachine(store, newRecordingSink())
	require.NoError(t, m.Boot())
	require.NoError(t, m.Start())
	m.Run()
	assert.False(t, m.Running())
	assert.Zero(t, m.Faults().Count)
}

func TestStepBudgetYields(t *testing.T) {
	h := newHarness(t, script.Assemble(
		script.For{Next: 4},
		script.Next{},
	), script.WithStepBudget(10))
	require.NoError(t, h.m.Start())

	assert.True(t, h.m.Run())
	assert.True(t, h.m.Running())
	h.m.Stop()
	assert.False(t, h.m.Run())
}

func TestDebugReportsLoopVariable(t *testing.T) {
	h := newHarness(t, script.Assemble(
		script.For{Next: 6},           // 2
		script.Wait{Millis: 10},       // 4
		script.Next{Count: 5},         // 6
	))
	h.start(t)
	assert.Equal(t, uint32(0), h.m.Debug().Loop)
	assert.Equal(t, uint16(6), h.m.Debug().PC)

	h.advance(10)
	assert.Equal(t, uint32(1), h.m.Debug().Loop)
}

func TestSerialPrint(t *testing.T) {
	var out bytes.Buffer
	h := newHarness(t, script.Assemble(
		script.SerialPrint{Value: 0x1AB},
		script.Mov{Reg: 1, Value: 0x12},
		script.SerialPrint{Value: script.RegisterOffset + 2, FromMemory: true},
	), script.WithSerial(&out))
	h.start(t)

	assert.Equal(t, []byte{0xAB, 0x01, 0x12, 0x00}, out.Bytes())
}

func TestPeekLayout(t *testing.T) {
	h := newHarness(t, script.Assemble(
		script.Mov{Reg: 2, Value: -2},
		script.Unary{Op: script.OpPush, Reg: 2},
		script.For{Next: 10},
		script.Wait{Millis: 5},
		script.Next{},
	))
	h.start(t)

	assert.Equal(t, byte(0xFE), h.m.Peek(script.RegisterOffset+4))
	assert.Equal(t, byte(0xFF), h.m.Peek(script.RegisterOffset+5))
	assert.Equal(t, byte(0xFE), h.m.Peek(script.StackOffset))
	assert.Equal(t, byte(6), h.m.Peek(script.ForStackOffset+8), "loop start address")
	assert.Equal(t, byte(10), h.m.Peek(script.ForStackOffset+10), "loop next address")
	assert.Equal(t, byte(255), h.m.Peek(script.DirectionOffset+16), "direction 8 x")
	assert.Zero(t, h.m.Peek(script.SerialBufferOffset))
}
