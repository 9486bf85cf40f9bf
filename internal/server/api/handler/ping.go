package handler

import (
	"log/slog"

	"github.com/Alia5/easycon/apitypes"
	"github.com/Alia5/easycon/internal/server/api"
	"github.com/Alia5/easycon/protocol"
)

// Ping identifies the server.
func Ping(version string) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		return marshal(res, apitypes.PingResponse{
			Server:          "easycon",
			Version:         version,
			ProtocolVersion: int(protocol.Version),
		})
	}
}
