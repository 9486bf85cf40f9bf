package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/Alia5/easycon/apiclient"
	"github.com/Alia5/easycon/apitypes"
	"github.com/Alia5/easycon/internal/server/api/auth"
)

type Status struct {
	Action   string        `arg:"" optional:"" help:"What to do: status, start, stop, report, program" enum:"status,start,stop,report,program" default:"status"`
	Addr     string        `name:"api.addr" help:"Control API address" default:"localhost:3242" env:"EASYCON_API_ADDR"`
	Password string        `name:"api.password" help:"Control API password; read from the key file when empty" env:"EASYCON_API_PASSWORD"`
	NoAuth   bool          `name:"api.no-auth" help:"Connect without authentication"`
	Report   string        `help:"With the report action: packed report as 16 hex digits, or a JSON object"`
	Timeout  time.Duration `help:"Request timeout" default:"5s"`
}

var errNoPassword = errors.New("no API password: pass --api.password or run on a terminal")

// Run is called by Kong when the status command is executed.
func (s *Status) Run(logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	password, err := s.password(logger)
	if err != nil {
		return err
	}
	cfg := apiclient.Config{
		DialTimeout:  s.Timeout,
		ReadTimeout:  s.Timeout,
		WriteTimeout: s.Timeout,
		Password:     password,
	}
	c := apiclient.NewWithConfig(s.Addr, &cfg)

	out, err := s.do(ctx, c)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, out)
}

func (s *Status) do(ctx context.Context, c *apiclient.Client) (any, error) {
	switch s.Action {
	case "start":
		return c.ScriptStartCtx(ctx)
	case "stop":
		return c.ScriptStopCtx(ctx)
	case "program":
		return c.ProgramCtx(ctx)
	case "report":
		if s.Report == "" {
			return c.ReportCtx(ctx)
		}
		if strings.HasPrefix(strings.TrimSpace(s.Report), "{") {
			var req apitypes.ReportRequest
			if err := json.Unmarshal([]byte(s.Report), &req); err != nil {
				return nil, fmt.Errorf("invalid report: %w", err)
			}
			return c.SetReportCtx(ctx, req)
		}
		return c.SetPackedReportCtx(ctx, s.Report)
	}
	return c.StatusCtx(ctx)
}

// password resolves the API password: flag or env first, then the key file
// the local emulator wrote, then an interactive prompt.
func (s *Status) password(logger *slog.Logger) (string, error) {
	if s.NoAuth {
		return "", nil
	}
	if s.Password != "" {
		return s.Password, nil
	}
	if path, err := keyFilePath(); err == nil {
		if pwd, err := auth.ReadKey(path); err == nil {
			logger.Debug("using API password from key file", "path", path)
			return pwd, nil
		}
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errNoPassword
	}
	fmt.Fprint(os.Stderr, "API password: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	if len(b) == 0 {
		return "", errNoPassword
	}
	return strings.TrimSpace(string(b)), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
