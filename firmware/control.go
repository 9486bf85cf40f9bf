package firmware

import (
	"context"
	"fmt"

	"github.com/Alia5/easycon/protocol"
	"github.com/Alia5/easycon/report"
	"github.com/Alia5/easycon/script"
)

// Status is a snapshot of the device taken on the loop goroutine.
type Status struct {
	Script         script.State
	Faults         script.Faults
	Debug          script.DebugInfo
	Report         report.Report
	ReportsSent    uint64
	Indicator      bool
	Serial         protocol.State
	ProtocolErrors uint32
	Dropped        uint64
	Capacity       int
	ProgramSize    int
	AutoStart      bool
}

func (d *Device) Status(ctx context.Context) (Status, error) {
	var st Status
	var err error
	doErr := d.Do(ctx, func() {
		st = Status{
			Script:         d.vm.State(),
			Faults:         d.vm.Faults(),
			Debug:          d.vm.Debug(),
			Report:         d.state.Snapshot(),
			ReportsSent:    d.state.Sent(),
			Indicator:      d.led,
			Serial:         d.disp.State(),
			ProtocolErrors: d.disp.Errors(),
			Dropped:        d.Dropped(),
			Capacity:       d.store.Capacity(),
		}
		var eof uint16
		if eof, err = d.store.EOF(); err != nil {
			return
		}
		st.ProgramSize = max(int(eof)-script.HeaderSize, 0)
		st.AutoStart, err = d.store.AutoStart()
	})
	if doErr != nil {
		return Status{}, doErr
	}
	return st, err
}

// StartScript restarts the stored program from its first instruction.
func (d *Device) StartScript(ctx context.Context) error {
	var err error
	if doErr := d.Do(ctx, func() { err = d.vm.Start() }); doErr != nil {
		return doErr
	}
	return err
}

func (d *Device) StopScript(ctx context.Context) error {
	return d.Do(ctx, d.vm.Stop)
}

// SetReport applies r the way a direct serial report does. It fails with
// ErrBusy while a script owns the report.
func (d *Device) SetReport(ctx context.Context, r report.Report) error {
	var err error
	doErr := d.Do(ctx, func() {
		if d.vm.Running() {
			err = ErrBusy
			return
		}
		d.state.Set(r)
		d.vm.MarkDirty()
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// Program returns the stored program without its header.
func (d *Device) Program(ctx context.Context) ([]byte, error) {
	var prog []byte
	var err error
	if doErr := d.Do(ctx, func() { prog, err = d.store.Program() }); doErr != nil {
		return nil, doErr
	}
	return prog, err
}

// Flash writes a program image (header included) at the start of the store.
// A running script is stopped first; a rejected image leaves it alone.
func (d *Device) Flash(ctx context.Context, image []byte) error {
	if len(image) < script.HeaderSize {
		return fmt.Errorf("%w: %d bytes is shorter than the header", ErrImage, len(image))
	}
	var err error
	doErr := d.Do(ctx, func() {
		if err = d.store.CheckWindow(0, len(image)); err != nil {
			return
		}
		d.vm.Stop()
		err = d.store.Write(0, image)
		if err == nil {
			d.logger.Info("flashed program image", "bytes", len(image))
		}
	})
	if doErr != nil {
		return doErr
	}
	return err
}
