// Package firmware runs the emulated controller: the instruction store, the
// script machine, the serial dispatcher and the pending report all live on a
// single loop goroutine driven by the millisecond tick.
package firmware

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Alia5/easycon/internal/log"
	"github.com/Alia5/easycon/protocol"
	"github.com/Alia5/easycon/report"
	"github.com/Alia5/easycon/script"
)

var (
	ErrBusy    = errors.New("script running")
	ErrStopped = errors.New("device loop not running")
	ErrImage   = errors.New("invalid program image")
)

// maxCatchUp bounds the ticks replayed after the loop was starved.
const maxCatchUp = 1000

// ReportFunc receives every delivered report. changed is set while the
// report still owes echoes.
type ReportFunc func(r report.Report, changed bool)

type Option func(*Device)

// WithReportFunc forwards delivered reports, e.g. to a USB gadget writer.
func WithReportFunc(fn ReportFunc) Option {
	return func(d *Device) { d.onReport = fn }
}

type call struct {
	fn   func()
	done chan struct{}
}

// Device is one emulated controller.
type Device struct {
	cfg       Config
	logger    *slog.Logger
	rawLogger log.RawLogger

	store *script.Store
	state *report.State
	vm    *script.Machine
	disp  *protocol.Dispatcher
	out   *bufio.Writer

	serial   io.Writer
	onReport ReportFunc

	in      chan byte
	calls   chan call
	dropped atomic.Uint64
	led     bool

	mu      sync.Mutex
	running bool
	done    chan struct{}
	ready   chan struct{}
}

// New builds a device on top of backend. Replies and script serial output
// are written to serial.
func New(cfg Config, backend script.Backend, serial io.Writer, logger *slog.Logger, rawLogger log.RawLogger, opts ...Option) *Device {
	cfg.normalize()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if rawLogger == nil {
		rawLogger = log.NewRaw(nil)
	}
	if serial == nil {
		serial = io.Discard
	}
	d := &Device{
		cfg:       cfg,
		logger:    logger,
		rawLogger: rawLogger,
		in:        make(chan byte, cfg.QueueSize),
		calls:     make(chan call),
		done:      make(chan struct{}),
		ready:     make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}

	d.serial = log.Writer(serial, rawLogger)
	d.out = bufio.NewWriterSize(d.serial, protocol.BufferSize)
	d.store = script.NewStore(backend, cfg.Capacity)
	d.state = report.NewState()
	d.vm = script.NewMachine(d.store, d.state,
		script.WithSerial(d.out),
		script.WithLogger(logger.With("component", "script")),
		script.WithEchoTimes(cfg.EchoTimes),
		script.WithIndicator(d),
		script.WithStepBudget(cfg.StepBudget),
	)
	d.disp = protocol.NewDispatcher(d.vm, d.store, d.state, d.out, logger.With("component", "serial"))
	return d
}

// Running implements script.Indicator; it stands in for the board LED.
func (d *Device) Running(on bool) {
	if d.led != on {
		d.logger.Debug("indicator", "on", on)
	}
	d.led = on
}

// Boot copies the configured image into the store, boots the machine and
// starts the script when the header asks for it. Call it before Run.
func (d *Device) Boot() error {
	if d.cfg.Image != "" {
		img, err := os.ReadFile(d.cfg.Image)
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		if err := d.store.Load(img); err != nil {
			return fmt.Errorf("load image %s: %w", d.cfg.Image, err)
		}
		d.logger.Info("loaded program image", "path", d.cfg.Image, "bytes", len(img))
	}
	if err := d.vm.Boot(); err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	if err := d.vm.AutoStart(); err != nil {
		return fmt.Errorf("autostart: %w", err)
	}
	return nil
}

// Ready is closed once Run has entered its loop.
func (d *Device) Ready() <-chan struct{} { return d.ready }

// Dropped returns the number of inbound bytes lost to a full queue.
func (d *Device) Dropped() uint64 { return d.dropped.Load() }

// Run drives the device until ctx is cancelled. Bytes read from in are fed
// to the serial dispatcher; a nil reader runs the device without a link.
// End of input is not an error, the script keeps running.
func (d *Device) Run(ctx context.Context, in io.Reader) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("device already running")
	}
	d.running = true
	d.mu.Unlock()
	defer close(d.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var readErr chan error
	if in != nil {
		readErr = make(chan error, 1)
		go d.read(ctx, in, readErr)
	}

	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()
	reports := time.NewTicker(d.cfg.ReportInterval)
	defer reports.Stop()

	again := make(chan struct{})
	close(again)

	last := time.Now()
	busy := d.step()
	close(d.ready)
	d.logger.Info("device running", "capacity", d.cfg.Capacity, "tick", d.cfg.TickInterval, "report_interval", d.cfg.ReportInterval)

	for {
		var yield <-chan struct{}
		if busy {
			yield = again
		}
		select {
		case <-ctx.Done():
			d.vm.Stop()
			d.flush()
			d.logger.Info("device stopped")
			return nil
		case err := <-readErr:
			readErr = nil
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("serial read: %w", err)
			}
			d.logger.Info("serial input closed")
		case b := <-d.in:
			d.disp.Feed(b)
			busy = d.step()
		case <-ticker.C:
			now := time.Now()
			n := int(now.Sub(last) / d.cfg.TickInterval)
			if n <= 0 {
				continue
			}
			last = last.Add(time.Duration(n) * d.cfg.TickInterval)
			if n > maxCatchUp {
				d.logger.Debug("loop starved, dropping ticks", "missed", n-maxCatchUp)
				n = maxCatchUp
			}
			for range n {
				d.vm.Tick()
				busy = d.step()
			}
		case <-reports.C:
			d.deliver()
		case c := <-d.calls:
			c.fn()
			close(c.done)
			busy = d.step()
		case <-yield:
			busy = d.step()
		}
	}
}

// Do runs fn on the loop goroutine, where it may touch the machine, store
// and report state. It blocks until fn returned.
func (d *Device) Do(ctx context.Context, fn func()) error {
	c := call{fn: fn, done: make(chan struct{})}
	select {
	case d.calls <- c:
	case <-d.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-c.done:
		return nil
	case <-d.done:
		return ErrStopped
	}
}

func (d *Device) read(ctx context.Context, in io.Reader, errc chan<- error) {
	buf := make([]byte, 64)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			d.rawLogger.Log(true, buf[:n])
			for _, b := range buf[:n] {
				select {
				case d.in <- b:
				default:
					d.dropped.Add(1)
					d.logger.Debug("serial queue full, dropping byte", "byte", b)
				}
			}
		}
		if err != nil {
			errc <- err
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// step lets the script run as far as it can and pushes out pending serial
// output. It reports whether the step budget cut the run short.
func (d *Device) step() bool {
	more := d.vm.Run()
	d.flush()
	return more
}

func (d *Device) flush() {
	if err := d.out.Flush(); err != nil {
		d.logger.Warn("serial write", "error", err)
		d.out.Reset(d.serial)
	}
}

func (d *Device) deliver() {
	r, changed := d.state.Deliver()
	d.vm.ReportSent()
	if changed {
		d.logger.Debug("report", "report", r.String())
	}
	if d.onReport != nil {
		d.onReport(r, changed)
	}
}
