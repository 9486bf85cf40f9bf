package handler

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Alia5/easycon/apitypes"
	"github.com/Alia5/easycon/internal/server/api"
	"github.com/Alia5/easycon/report"
)

// Report returns the pending report. With a payload it first applies a new
// report, given either as the 16 hex digits of the packed serial frame or
// as a JSON object. Setting fails with a conflict while a script runs.
func Report(dev Device) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		payload := strings.TrimSpace(req.Payload)
		if payload != "" {
			r, err := parseReport(payload)
			if err != nil {
				return api.ErrBadRequest(err.Error())
			}
			if err := dev.SetReport(req.Ctx, r); err != nil {
				return deviceError(err)
			}
			logger.Debug("report set via api", "report", r.String())
		}
		st, err := dev.Status(req.Ctx)
		if err != nil {
			return deviceError(err)
		}
		return marshal(res, reportDTO(st.Report))
	}
}

func parseReport(payload string) (report.Report, error) {
	if strings.HasPrefix(payload, "{") {
		var rr apitypes.ReportRequest
		if err := json.Unmarshal([]byte(payload), &rr); err != nil {
			return report.Report{}, fmt.Errorf("invalid report json: %w", err)
		}
		r := report.Default()
		if rr.Buttons != nil {
			r.Buttons = *rr.Buttons
		}
		if rr.HAT != nil {
			if *rr.HAT > report.HATCenter {
				return report.Report{}, fmt.Errorf("hat %d out of range", *rr.HAT)
			}
			r.HAT = *rr.HAT
		}
		for _, f := range []struct {
			src *uint8
			dst *uint8
		}{{rr.LX, &r.LX}, {rr.LY, &r.LY}, {rr.RX, &r.RX}, {rr.RY, &r.RY}} {
			if f.src != nil {
				*f.dst = *f.src
			}
		}
		return r, nil
	}

	b, err := decodeHex(payload)
	if err != nil {
		return report.Report{}, fmt.Errorf("invalid packed report: %w", err)
	}
	if len(b) != report.PackedSize {
		return report.Report{}, fmt.Errorf("packed report needs %d bytes, got %d", report.PackedSize, len(b))
	}
	var frame [report.PackedSize]byte
	copy(frame[:], b)
	if err := report.CheckFrame(frame); err != nil {
		return report.Report{}, err
	}
	return report.Unpack(frame), nil
}

func encodeHex(b []byte) string { return hex.EncodeToString(b) }
