package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Alia5/easycon/firmware"
	"github.com/Alia5/easycon/internal/configpaths"
	"github.com/Alia5/easycon/internal/eeprom"
	"github.com/Alia5/easycon/internal/log"
	"github.com/Alia5/easycon/internal/serialport"
	"github.com/Alia5/easycon/internal/server/api"
	"github.com/Alia5/easycon/internal/server/api/auth"
	"github.com/Alia5/easycon/internal/server/api/handler"
	"github.com/Alia5/easycon/report"
	"github.com/Alia5/easycon/script"
)

const keyFileName = "easycon.key.txt"

// Version is set at build time.
var Version = "dev"

type Run struct {
	Device            firmware.Config  `embed:"" prefix:"device."`
	Serial            string           `help:"Serial link: a tty path, - for stdio, or tcp://addr to listen for a host" default:"tcp://127.0.0.1:3243" env:"EASYCON_SERIAL"`
	Baud              int              `help:"Baud rate when the serial link is a tty" default:"115200" env:"EASYCON_BAUD"`
	ApiServerConfig   api.ServerConfig `embed:"" prefix:"api."`
	ConnectionTimeout time.Duration    `help:"Control API connection timeout" default:"30s" env:"EASYCON_CONNECTION_TIMEOUT"`
}

// Run is called by Kong when the run command is executed.
func (r *Run) Run(logger *slog.Logger, rawLogger log.RawLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return r.Start(ctx, logger, rawLogger)
}

// Start runs the emulated device until ctx is done.
func (r *Run) Start(ctx context.Context, logger *slog.Logger, rawLogger log.RawLogger) error {
	r.ApiServerConfig.ConnectionTimeout = r.ConnectionTimeout

	backend, closeBackend, err := r.openBackend(logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	link, err := serialport.OpenDevice(r.Serial, r.Baud, logger)
	if err != nil {
		return fmt.Errorf("open serial link %q: %w", r.Serial, err)
	}
	defer link.Close()
	logger.Info("Serial link open", "link", r.Serial)

	dev := firmware.New(r.Device, backend, link, logger, rawLogger,
		firmware.WithReportFunc(func(rep report.Report, changed bool) {
			if changed {
				logger.Log(context.Background(), log.LevelTrace, "report delivered", "report", rep.String())
			}
		}))
	if err := dev.Boot(); err != nil {
		return err
	}

	return r.serve(ctx, dev, link, logger)
}

// serve runs dev and the control API until ctx is done. It returns only
// after the device loop has stopped.
func (r *Run) serve(ctx context.Context, dev *firmware.Device, link io.Reader, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	devErrCh := make(chan error, 1)
	go func() {
		devErrCh <- dev.Run(ctx, link)
	}()

	select {
	case err := <-devErrCh:
		return err
	case <-dev.Ready():
	}

	apiSrv, err := r.startAPI(dev, logger)
	if err != nil {
		cancel()
		<-devErrCh
		return err
	}
	if apiSrv != nil {
		defer apiSrv.Close()
	}
	return <-devErrCh
}

// startAPI serves the control API for dev. It returns nil without error when
// the API is disabled.
func (r *Run) startAPI(dev *firmware.Device, logger *slog.Logger) (*api.Server, error) {
	if r.ApiServerConfig.Addr == "" {
		logger.Info("Control API disabled")
		return nil, nil
	}
	if err := r.resolvePassword(logger); err != nil {
		return nil, err
	}
	apiSrv := api.New(r.ApiServerConfig.Addr, r.ApiServerConfig, logger)
	rt := apiSrv.Router()
	rt.Register("ping", handler.Ping(Version))
	rt.Register("status", handler.Status(dev))
	rt.Register("script/start", handler.ScriptStart(dev))
	rt.Register("script/stop", handler.ScriptStop(dev))
	rt.Register("report", handler.Report(dev))
	rt.Register("program", handler.Program(dev))
	rt.Register("program/flash", handler.ProgramFlash(dev))
	if err := apiSrv.Start(); err != nil {
		logger.Error("failed to start API server", "error", err)
		return nil, err
	}
	return apiSrv, nil
}

func (r *Run) openBackend(logger *slog.Logger) (script.Backend, func(), error) {
	size := script.BackendSize(r.Device.Capacity)
	if r.Device.EEPROM == "" {
		logger.Info("Using a volatile in-memory store")
		return script.NewMemBackend(size), func() {}, nil
	}
	f, err := eeprom.Open(r.Device.EEPROM, size)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Using EEPROM file", "path", r.Device.EEPROM, "bytes", size)
	return f, func() { _ = f.Close() }, nil
}

// resolvePassword fills in the API password from the key file, creating it
// on first use, unless a password was given or auth is disabled.
func (r *Run) resolvePassword(logger *slog.Logger) error {
	if r.ApiServerConfig.NoAuth {
		logger.Warn("Control API authentication disabled")
		return nil
	}
	if r.ApiServerConfig.Password != "" {
		return nil
	}
	path, err := keyFilePath()
	if err != nil {
		return fmt.Errorf("failed to resolve key file path: %w", err)
	}
	pwd, created, err := auth.LoadOrCreateKey(path)
	if err != nil {
		return err
	}
	r.ApiServerConfig.Password = pwd
	if created {
		logger.Info("Generated API server password", "path", path)
		logger.Info("-------------------------------------")
		logger.Info("Your easycon API server password is:")
		logger.Info("-------------------------------------")
		logger.Info(pwd)
		logger.Info("-------------------------------------")
		logger.Info("You can change this password at any time by editing the file")
	}
	return nil
}

func keyFilePath() (string, error) {
	dir, err := configpaths.DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, keyFileName), nil
}
