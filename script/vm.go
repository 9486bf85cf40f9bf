package script

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"

	"github.com/Alia5/easycon/internal/log"
)

const (
	// DefaultEchoTimes is how many times a changed report is delivered before
	// the final millisecond of a wait may elapse.
	DefaultEchoTimes = 3
	// DefaultStepBudget bounds the instructions executed by one Run call.
	DefaultStepBudget = 4096
)

// Machine is the script interpreter. It is not safe for concurrent use; the
// firmware loop owns it.
type Machine struct {
	store     *Store
	sink      ReportSink
	serial    io.ByteWriter
	logger    *slog.Logger
	indicator Indicator
	echoTimes int
	budget    int

	ctx     Context
	running bool
	autoRun bool
	rng     *rand.Rand
	faults  Faults
}

type Option func(*Machine)

// WithSerial routes SerialPrint output to w.
func WithSerial(w io.ByteWriter) Option {
	return func(m *Machine) { m.serial = w }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithEchoTimes sets the report echo count. Zero disables wait gating.
func WithEchoTimes(n int) Option {
	return func(m *Machine) { m.echoTimes = max(n, 0) }
}

func WithIndicator(i Indicator) Option {
	return func(m *Machine) {
		if i != nil {
			m.indicator = i
		}
	}
}

// WithStepBudget bounds how many instructions a single Run executes before
// yielding to the caller.
func WithStepBudget(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.budget = n
		}
	}
}

func NewMachine(store *Store, sink ReportSink, opts ...Option) *Machine {
	m := &Machine{
		store:     store,
		sink:      sink,
		logger:    slog.New(slog.DiscardHandler),
		indicator: noIndicator{},
		echoTimes: DefaultEchoTimes,
		budget:    DefaultStepBudget,
		ctx:       newContext(),
		rng:       rand.New(rand.NewSource(0)),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Boot prepares the machine after power-up: the persisted seed is bumped so
// every boot produces a different random sequence, and the auto-start flag
// is latched.
func (m *Machine) Boot() error {
	seed, err := m.store.Seed()
	if err != nil {
		return err
	}
	seed++
	if err := m.store.SetSeed(seed); err != nil {
		return err
	}
	m.ctx.Seed = seed
	m.rng.Seed(int64(seed))

	m.autoRun, err = m.store.AutoStart()
	if err != nil {
		return err
	}
	m.sink.Reset()
	m.MarkDirty()
	m.logger.Debug("script machine booted", "seed", seed, "autostart", m.autoRun)
	return nil
}

// AutoStart starts the script when the store header asks for it.
func (m *Machine) AutoStart() error {
	if !m.autoRun {
		return nil
	}
	return m.Start()
}

// Start (re)starts execution at the first instruction.
func (m *Machine) Start() error {
	eof, err := m.store.EOF()
	if err != nil {
		return fmt.Errorf("start script: %w", err)
	}
	seed, err := m.store.Seed()
	if err != nil {
		return fmt.Errorf("start script: %w", err)
	}
	m.ctx.reset()
	m.ctx.Timer.Reset()
	m.ctx.PC = HeaderSize
	m.ctx.EOF = eof
	m.ctx.Seed = seed
	m.running = true
	m.indicator.Running(true)
	m.logger.Info("script started", "eof", eof)
	return nil
}

// Stop halts execution and restores the default report.
func (m *Machine) Stop() {
	wasRunning := m.running
	m.running = false
	m.ctx.Elapsed = m.ctx.Timer.Clock
	m.sink.Reset()
	m.MarkDirty()
	m.indicator.Running(false)
	if wasRunning {
		m.logger.Info("script stopped", "pc", m.ctx.PC, "elapsed_ms", m.ctx.Elapsed)
	}
}

// Running reports whether a script is executing.
func (m *Machine) Running() bool { return m.running }

// Run executes instructions until the script blocks on a wait, stops, or the
// step budget is spent. It reports true in the last case: the script is still
// runnable and Run should be called again soon.
func (m *Machine) Run() bool {
	for steps := 0; ; steps++ {
		if !m.running || m.ctx.Timer.Blocked() {
			return false
		}
		if steps == m.budget {
			return true
		}
		m.sweep()
		if m.ctx.Timer.TakeTail() {
			return false
		}
		if m.ctx.PC >= m.ctx.EOF {
			m.Stop()
			return false
		}
		m.step()
	}
}

// sweep counts down the key slots and releases the ones that expire.
func (m *Machine) sweep() {
	for i := range m.ctx.Keys {
		if m.ctx.Keys[i] == 0 {
			continue
		}
		m.ctx.Keys[i]--
		if m.ctx.Keys[i] != 0 {
			continue
		}
		switch {
		case i == LeftStickSlot:
			m.sink.SetLeftStick(StickCenter, StickCenter)
		case i == RightStickSlot:
			m.sink.SetRightStick(StickCenter, StickCenter)
		case i&0x10 == 0:
			m.sink.Release(1 << i)
		default:
			m.sink.SetHAT(HATCenter)
		}
		m.MarkDirty()
	}
}

// Tick advances the script clock by one millisecond.
func (m *Machine) Tick() {
	m.ctx.Timer.Tick(m.ctx.Echo > 0)
}

// ReportSent acknowledges that the host received one report.
func (m *Machine) ReportSent() {
	if m.ctx.Echo > 0 {
		m.ctx.Echo--
	}
}

// MarkDirty records a report change that must reach the host.
func (m *Machine) MarkDirty() {
	m.ctx.Echo = m.echoTimes
	m.sink.Resend(m.echoTimes)
}

// DebugInfo is the payload of the serial debug command.
type DebugInfo struct {
	Loop    uint32
	Elapsed uint32
	PC      uint16
}

func (m *Machine) Debug() DebugInfo {
	d := DebugInfo{Elapsed: m.ctx.Elapsed, PC: m.ctx.PC}
	if f := m.ctx.Loops.Top(); f != nil {
		d.Loop = f.Raw()
	}
	return d
}

func (m *Machine) Faults() Faults { return m.faults }

// State is a point in time view of the machine for diagnostics.
type State struct {
	Running   bool
	PC        uint16
	EOF       uint16
	Wait      uint32
	Clock     uint32
	Elapsed   uint32
	Flag      bool
	Registers [RegisterCount]int16
	Stack     int
	Calls     int
	Loops     int
	Echo      int
}

func (m *Machine) State() State {
	return State{
		Running:   m.running,
		PC:        m.ctx.PC,
		EOF:       m.ctx.EOF,
		Wait:      m.ctx.Timer.Wait,
		Clock:     m.ctx.Timer.Clock,
		Elapsed:   m.ctx.Elapsed,
		Flag:      m.ctx.Flag,
		Registers: m.ctx.Registers,
		Stack:     m.ctx.Stack.Len(),
		Calls:     m.ctx.Calls.Len(),
		Loops:     m.ctx.Loops.Len(),
		Echo:      m.ctx.Echo,
	}
}

// Peek reads the flat scratch view.
func (m *Machine) Peek(addr int) byte { return m.ctx.Peek(addr) }

// fault records a recoverable fault.
func (m *Machine) fault(err error) {
	m.faults.Count++
	m.faults.Last = err
	m.faults.PC = m.ctx.Addr
	m.faults.Aborted = false
	m.logger.Warn("script fault", "pc", m.ctx.Addr, "error", err)
}

// abort records a fault that ends the run.
func (m *Machine) abort(err error) {
	m.fault(err)
	m.faults.Aborted = true
	m.logger.Error("script aborted", "pc", m.ctx.Addr, "error", err)
	m.Stop()
}

func (m *Machine) trace(in Instruction) {
	if !m.logger.Enabled(context.Background(), log.LevelTrace) {
		return
	}
	m.logger.Log(context.Background(), log.LevelTrace, "exec", "pc", m.ctx.Addr, "ins", in.String())
}
