package handler

import (
	"log/slog"

	"github.com/Alia5/easycon/apitypes"
	"github.com/Alia5/easycon/internal/server/api"
)

// ScriptStart (re)starts the stored program.
func ScriptStart(dev Device) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		if err := dev.StartScript(req.Ctx); err != nil {
			return deviceError(err)
		}
		logger.Info("script started via api")
		return marshal(res, apitypes.ScriptResponse{Running: true})
	}
}

// ScriptStop halts the program and restores the neutral report.
func ScriptStop(dev Device) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		if err := dev.StopScript(req.Ctx); err != nil {
			return deviceError(err)
		}
		return marshal(res, apitypes.ScriptResponse{Running: false})
	}
}
