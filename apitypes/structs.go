package apitypes

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ApiError represents an RFC 7807 (problem+json) error response.
type ApiError struct {
	// Status is the HTTP-style status code (e.g., 400, 404, 500)
	Status int `json:"status"`
	// Title is a short, human-readable summary of the problem type
	Title string `json:"title"`
	// Detail is a human-readable explanation specific to this occurrence
	Detail string `json:"detail"`
}

func (e ApiError) Error() string {
	if e.Status == 0 && e.Title == "" {
		return "unknown error"
	}
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Title, e.Detail)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Title, e.Detail)
}

// --

type PingResponse struct {
	Server          string `json:"server"`
	Version         string `json:"version"`
	ProtocolVersion int    `json:"protocolVersion"`
}

type ScriptResponse struct {
	Running bool `json:"running"`
}

// Report is the pending controller report.
type Report struct {
	Buttons uint16 `json:"buttons"`
	HAT     uint8  `json:"hat"`
	LX      uint8  `json:"lx"`
	LY      uint8  `json:"ly"`
	RX      uint8  `json:"rx"`
	RY      uint8  `json:"ry"`
	// Packed is the 8-byte serial encoding as hex.
	Packed string `json:"packed,omitempty"`
}

// ReportRequest sets a report through the API. It accepts the same fields
// as Report; every field is optional and defaults to the neutral report.
// buttons may be a number or a hex string like "0x0004".
type ReportRequest struct {
	Buttons *uint16 `json:"buttons,omitempty"`
	HAT     *uint8  `json:"hat,omitempty"`
	LX      *uint8  `json:"lx,omitempty"`
	LY      *uint8  `json:"ly,omitempty"`
	RX      *uint8  `json:"rx,omitempty"`
	RY      *uint8  `json:"ry,omitempty"`
}

func (r *ReportRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		Buttons any    `json:"buttons,omitempty"`
		HAT     *uint8 `json:"hat,omitempty"`
		LX      *uint8 `json:"lx,omitempty"`
		LY      *uint8 `json:"ly,omitempty"`
		RX      *uint8 `json:"rx,omitempty"`
		RY      *uint8 `json:"ry,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.HAT, r.LX, r.LY, r.RX, r.RY = raw.HAT, raw.LX, raw.LY, raw.RX, raw.RY
	if raw.Buttons != nil {
		val, err := parseUint16OrHex(raw.Buttons)
		if err != nil {
			return fmt.Errorf("buttons: %w", err)
		}
		r.Buttons = &val
	}
	return nil
}

// parseUint16OrHex accepts either a JSON number or a hex string like "0x12ac"
func parseUint16OrHex(v any) (uint16, error) {
	switch val := v.(type) {
	case float64:
		if val < 0 || val > 65535 || val != float64(uint16(val)) {
			return 0, fmt.Errorf("value %v out of uint16 range", val)
		}
		return uint16(val), nil
	case string:
		s := strings.TrimSpace(val)
		base := 10
		if strings.HasPrefix(strings.ToLower(s), "0x") {
			s = s[2:]
			base = 16
		} else if strings.ContainsAny(s, "abcdefABCDEF") {
			base = 16
		}
		parsed, err := strconv.ParseUint(s, base, 16)
		if err != nil {
			return 0, fmt.Errorf("invalid hex/numeric string %q: %w", val, err)
		}
		return uint16(parsed), nil
	default:
		return 0, fmt.Errorf("expected number or hex string, got %T", v)
	}
}

type Fault struct {
	Count   uint32 `json:"count"`
	Last    string `json:"last,omitempty"`
	PC      uint16 `json:"pc"`
	Aborted bool   `json:"aborted"`
}

type StatusResponse struct {
	Running      bool    `json:"running"`
	PC           uint16  `json:"pc"`
	EOF          uint16  `json:"eof"`
	Wait         uint32  `json:"wait"`
	Clock        uint32  `json:"clock"`
	Elapsed      uint32  `json:"elapsed"`
	Flag         bool    `json:"flag"`
	Registers    []int16 `json:"registers"`
	StackDepth   int     `json:"stackDepth"`
	CallDepth    int     `json:"callDepth"`
	LoopDepth    int     `json:"loopDepth"`
	LoopVariable uint32  `json:"loopVariable"`
	Echo         int     `json:"echo"`
	Faults       Fault   `json:"faults"`

	Report      Report `json:"report"`
	ReportsSent uint64 `json:"reportsSent"`
	Indicator   bool   `json:"indicator"`

	SerialPhase     string `json:"serialPhase"`
	SerialBuffered  int    `json:"serialBuffered"`
	SerialRemaining int    `json:"serialRemaining"`
	ProtocolErrors  uint32 `json:"protocolErrors"`
	DroppedBytes    uint64 `json:"droppedBytes"`

	Capacity    int  `json:"capacity"`
	ProgramSize int  `json:"programSize"`
	AutoStart   bool `json:"autoStart"`
}

type ProgramLine struct {
	Addr  uint16 `json:"addr"`
	Bytes string `json:"bytes"`
	Text  string `json:"text"`
}

type ProgramResponse struct {
	Size      int           `json:"size"`
	AutoStart bool          `json:"autoStart"`
	Bytes     string        `json:"bytes"`
	Lines     []ProgramLine `json:"lines"`
}

type FlashResponse struct {
	Bytes    int `json:"bytes"`
	Capacity int `json:"capacity"`
}
