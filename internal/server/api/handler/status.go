package handler

import (
	"log/slog"

	"github.com/Alia5/easycon/apitypes"
	"github.com/Alia5/easycon/firmware"
	"github.com/Alia5/easycon/internal/server/api"
	"github.com/Alia5/easycon/report"
)

// Status reports the machine, report and serial state.
func Status(dev Device) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		st, err := dev.Status(req.Ctx)
		if err != nil {
			return deviceError(err)
		}
		return marshal(res, statusResponse(st))
	}
}

func statusResponse(st firmware.Status) apitypes.StatusResponse {
	out := apitypes.StatusResponse{
		Running:      st.Script.Running,
		PC:           st.Script.PC,
		EOF:          st.Script.EOF,
		Wait:         st.Script.Wait,
		Clock:        st.Script.Clock,
		Elapsed:      st.Script.Elapsed,
		Flag:         st.Script.Flag,
		Registers:    st.Script.Registers[:],
		StackDepth:   st.Script.Stack,
		CallDepth:    st.Script.Calls,
		LoopDepth:    st.Script.Loops,
		LoopVariable: st.Debug.Loop,
		Echo:         st.Script.Echo,
		Faults: apitypes.Fault{
			Count:   st.Faults.Count,
			PC:      st.Faults.PC,
			Aborted: st.Faults.Aborted,
		},
		Report:          reportDTO(st.Report),
		ReportsSent:     st.ReportsSent,
		Indicator:       st.Indicator,
		SerialPhase:     st.Serial.Phase.String(),
		SerialBuffered:  st.Serial.Buffered,
		SerialRemaining: st.Serial.Remaining,
		ProtocolErrors:  st.ProtocolErrors,
		DroppedBytes:    st.Dropped,
		Capacity:        st.Capacity,
		ProgramSize:     st.ProgramSize,
		AutoStart:       st.AutoStart,
	}
	if st.Faults.Last != nil {
		out.Faults.Last = st.Faults.Last.Error()
	}
	return out
}

func reportDTO(r report.Report) apitypes.Report {
	packed := report.Pack(r)
	return apitypes.Report{
		Buttons: r.Buttons,
		HAT:     r.HAT,
		LX:      r.LX,
		LY:      r.LY,
		RX:      r.RX,
		RY:      r.RY,
		Packed:  encodeHex(packed[:]),
	}
}
