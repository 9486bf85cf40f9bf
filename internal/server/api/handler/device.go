package handler

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"github.com/Alia5/easycon/firmware"
	"github.com/Alia5/easycon/internal/server/api"
	"github.com/Alia5/easycon/report"
	"github.com/Alia5/easycon/script"
)

// Device is the part of the firmware the handlers drive. *firmware.Device
// implements it.
type Device interface {
	Status(ctx context.Context) (firmware.Status, error)
	StartScript(ctx context.Context) error
	StopScript(ctx context.Context) error
	SetReport(ctx context.Context, r report.Report) error
	Program(ctx context.Context) ([]byte, error)
	Flash(ctx context.Context, image []byte) error
}

// deviceError maps firmware errors to API problems.
func deviceError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, firmware.ErrStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return api.ErrUnavailable(err.Error())
	case errors.Is(err, firmware.ErrBusy):
		return api.ErrConflict(err.Error())
	case errors.Is(err, firmware.ErrImage),
		errors.Is(err, script.ErrFlashWindow):
		return api.ErrBadRequest(err.Error())
	}
	return err
}

// decodeHex accepts hex digits with optional whitespace and an optional 0x prefix.
func decodeHex(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	return hex.DecodeString(s)
}

func marshal(res *api.Response, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	res.JSON = string(b)
	return nil
}
