package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"

	"github.com/Alia5/easycon/report"
	"github.com/Alia5/easycon/script"
)

// Controller is the part of the script machine the dispatcher drives.
type Controller interface {
	Running() bool
	Start() error
	Stop()
	MarkDirty()
	Debug() script.DebugInfo
}

// Phase is the coarse state of the dispatcher.
type Phase int

const (
	AwaitingControl Phase = iota
	AwaitingCommand
	CollectingReport
	Flashing
)

func (p Phase) String() string {
	switch p {
	case AwaitingControl:
		return "awaiting-control"
	case AwaitingCommand:
		return "awaiting-command"
	case CollectingReport:
		return "collecting-report"
	case Flashing:
		return "flashing"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// State describes where the dispatcher is within an interaction.
type State struct {
	Phase Phase
	// Buffered is the number of staged bytes.
	Buffered int
	// Remaining is the number of flash bytes still expected.
	Remaining int
}

// Dispatcher interprets the inbound serial byte stream. It is not safe for
// concurrent use; the firmware loop owns it together with the machine.
type Dispatcher struct {
	vm     Controller
	store  *script.Store
	sink   script.ReportSink
	out    io.Writer
	logger *slog.Logger

	buf   [BufferSize]byte
	n     int
	ready bool

	flashing  bool
	flashDest int
	flashLen  int
	flashData []byte

	errors uint32
}

// NewDispatcher creates a dispatcher writing its replies to out.
func NewDispatcher(vm Controller, store *script.Store, sink script.ReportSink, out io.Writer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{vm: vm, store: store, sink: sink, out: out, logger: logger}
}

// Feed processes one inbound byte.
func (d *Dispatcher) Feed(b byte) {
	if d.flashing {
		d.stage(b)
		return
	}

	d.buf[d.n] = b
	d.n++
	if b&controlBit != 0 {
		switch {
		case d.n == 1 && !d.ready && b == CmdReady:
			d.ready = true
		case d.n == report.PackedSize:
			d.directReport()
			d.ready = false
		case d.ready:
			d.ready = false
			d.command(b, d.buf[:d.n-1])
		default:
			d.fail(byte(d.n), "unexpected control byte", "byte", b)
		}
		d.n = 0
	}
	if d.n >= BufferSize {
		d.logger.Debug("serial staging buffer overflow, discarding")
		d.n = 0
	}
}

// Write feeds every byte of p.
func (d *Dispatcher) Write(p []byte) (int, error) {
	for _, b := range p {
		d.Feed(b)
	}
	return len(p), nil
}

func (d *Dispatcher) State() State {
	switch {
	case d.flashing:
		return State{Phase: Flashing, Remaining: d.flashLen - len(d.flashData)}
	case d.ready:
		return State{Phase: AwaitingCommand, Buffered: d.n}
	case d.n > 0:
		return State{Phase: CollectingReport, Buffered: d.n}
	}
	return State{Phase: AwaitingControl}
}

// Errors returns the number of error replies sent.
func (d *Dispatcher) Errors() uint32 { return d.errors }

func (d *Dispatcher) directReport() {
	if d.vm.Running() {
		d.reply(ReplyBusy)
		return
	}
	var frame [report.PackedSize]byte
	copy(frame[:], d.buf[:report.PackedSize])
	r := report.Unpack(frame)
	d.sink.SetButtons(r.Buttons)
	d.sink.SetHAT(r.HAT)
	d.sink.SetLeftStick(r.LX, r.LY)
	d.sink.SetRightStick(r.RX, r.RY)
	d.vm.MarkDirty()
	d.reply(ReplyAck)
}

func (d *Dispatcher) command(cmd byte, params []byte) {
	d.logger.Debug("serial command", "cmd", fmt.Sprintf("%#02x", cmd), "params", len(params))
	switch cmd {
	case CmdDebug:
		info := d.vm.Debug()
		var b [DebugSize]byte
		binary.LittleEndian.PutUint32(b[0:4], info.Loop)
		binary.LittleEndian.PutUint32(b[4:8], info.Elapsed)
		binary.LittleEndian.PutUint16(b[8:10], info.PC)
		d.reply(b[:]...)
	case CmdVersion:
		d.reply(Version)
	case CmdReady:
		d.ready = true
	case CmdHello:
		d.reply(ReplyHello)
	case CmdFlash:
		d.beginFlash(params)
	case CmdScriptStart:
		if err := d.vm.Start(); err != nil {
			d.fail(ReplyError, "start script", "error", err)
			return
		}
		d.reply(ReplyScriptAck)
	case CmdScriptStop:
		d.vm.Stop()
		d.reply(ReplyScriptAck)
	default:
		d.fail(ReplyError, "unknown command", "cmd", cmd)
	}
}

func (d *Dispatcher) beginFlash(params []byte) {
	if len(params) != flashParams {
		d.fail(ReplyError, "flash needs 4 parameter bytes", "got", len(params))
		return
	}
	dest := int(params[0]) | int(params[1])<<7
	count := int(params[2]) | int(params[3])<<7
	if err := d.store.CheckWindow(dest, count); err != nil {
		d.fail(ReplyError, "flash rejected", "dest", dest, "count", count, "error", err)
		return
	}
	d.vm.Stop()
	d.reply(ReplyFlashStart)
	if count == 0 {
		d.reply(ReplyFlashEnd)
		return
	}
	d.flashing = true
	d.flashDest = dest
	d.flashLen = count
	d.flashData = make([]byte, 0, count)
}

func (d *Dispatcher) stage(b byte) {
	d.flashData = append(d.flashData, b)
	if len(d.flashData) < d.flashLen {
		return
	}
	d.flashing = false
	data := d.flashData
	d.flashData = nil
	if err := d.store.Write(d.flashDest, data); err != nil {
		d.fail(ReplyError, "flash write", "dest", d.flashDest, "error", err)
		return
	}
	d.logger.Info("flashed", "dest", d.flashDest, "bytes", len(data))
	d.reply(ReplyFlashEnd)
}

func (d *Dispatcher) reply(b ...byte) {
	if _, err := d.out.Write(b); err != nil {
		d.logger.Warn("serial reply", "error", err)
	}
}

func (d *Dispatcher) fail(code byte, msg string, args ...any) {
	d.errors++
	d.logger.Warn(msg, args...)
	d.reply(code)
}
