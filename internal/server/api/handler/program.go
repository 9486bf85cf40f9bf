package handler

import (
	"log/slog"

	"github.com/Alia5/easycon/apitypes"
	"github.com/Alia5/easycon/internal/server/api"
	"github.com/Alia5/easycon/script"
)

// Program returns the stored program and its disassembly. A program whose
// tail does not decode is listed up to the broken instruction.
func Program(dev Device) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		prog, err := dev.Program(req.Ctx)
		if err != nil {
			return deviceError(err)
		}
		st, err := dev.Status(req.Ctx)
		if err != nil {
			return deviceError(err)
		}
		lines, err := script.Disassemble(prog, script.HeaderSize)
		if err != nil {
			logger.Warn("stored program does not disassemble cleanly", "error", err)
		}
		out := apitypes.ProgramResponse{
			Size:      len(prog),
			AutoStart: st.AutoStart,
			Bytes:     encodeHex(prog),
			Lines:     make([]apitypes.ProgramLine, 0, len(lines)),
		}
		for _, l := range lines {
			out.Lines = append(out.Lines, apitypes.ProgramLine{Addr: l.Addr, Bytes: encodeHex(l.Bytes), Text: l.Text})
		}
		return marshal(res, out)
	}
}

// ProgramFlash writes a hex encoded program image, header included, to the
// start of the store. A running script is stopped.
func ProgramFlash(dev Device) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		image, err := decodeHex(req.Payload)
		if err != nil {
			return api.ErrBadRequest("invalid image: " + err.Error())
		}
		if len(image) == 0 {
			return api.ErrBadRequest("missing image")
		}
		if err := dev.Flash(req.Ctx, image); err != nil {
			return deviceError(err)
		}
		st, err := dev.Status(req.Ctx)
		if err != nil {
			return deviceError(err)
		}
		logger.Info("program flashed via api", "bytes", len(image))
		return marshal(res, apitypes.FlashResponse{Bytes: len(image), Capacity: st.Capacity})
	}
}
