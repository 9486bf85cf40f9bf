package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/Alia5/easycon/internal/log"
	"github.com/Alia5/easycon/internal/serialport"
	"github.com/Alia5/easycon/protocol"
	"github.com/Alia5/easycon/script"
)

type Flash struct {
	Image     string        `arg:"" help:"Program image to flash" type:"existingfile"`
	Port      string        `help:"Serial port of the device, or tcp://addr for an emulator" default:"tcp://127.0.0.1:3243" env:"EASYCON_PORT"`
	Baud      int           `help:"Baud rate" default:"115200" env:"EASYCON_BAUD"`
	Timeout   time.Duration `help:"Reply timeout" default:"2s" env:"EASYCON_FLASH_TIMEOUT"`
	Bare      bool          `help:"The file holds bytecode only; prepend the EOF header"`
	AutoStart bool          `help:"With --bare, mark the program to run on boot"`
	NoStart   bool          `help:"Do not start the script after flashing"`
}

// Run is called by Kong when the flash command is executed.
func (f *Flash) Run(logger *slog.Logger, rawLogger log.RawLogger) error {
	data, err := os.ReadFile(f.Image)
	if err != nil {
		return err
	}
	image, err := f.buildImage(data)
	if err != nil {
		return err
	}

	link, err := serialport.OpenHost(f.Port, f.Baud, f.Timeout)
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Port, err)
	}
	defer link.Close()

	c := protocol.NewClient(newTracedLink(link, rawLogger), protocol.WithTimeout(f.Timeout))
	if err := c.Hello(); err != nil {
		return fmt.Errorf("device did not answer hello: %w", err)
	}
	v, err := c.Version()
	if err != nil {
		return err
	}
	if v != protocol.Version {
		logger.Warn("firmware protocol version differs", "device", v, "expected", protocol.Version)
	}

	logger.Info("Flashing", "image", f.Image, "bytes", len(image), "port", f.Port)
	if err := c.Upload(image, !f.NoStart); err != nil {
		return err
	}
	logger.Info("Flash complete", "started", !f.NoStart)
	return nil
}

func (f *Flash) buildImage(data []byte) ([]byte, error) {
	if f.Bare {
		return script.NewImage(data, f.AutoStart), nil
	}
	if len(data) < script.HeaderSize {
		return nil, fmt.Errorf("%s: %d bytes is shorter than the header", f.Image, len(data))
	}
	return data, nil
}

// tracedLink dumps host side traffic to the raw logger and keeps the read
// timeout controls of the wrapped link visible to protocol.Client.
type tracedLink struct {
	rw  io.ReadWriter
	raw log.RawLogger
}

func newTracedLink(rw io.ReadWriter, raw log.RawLogger) *tracedLink {
	return &tracedLink{rw: rw, raw: raw}
}

func (l *tracedLink) Read(p []byte) (int, error) {
	n, err := l.rw.Read(p)
	l.raw.Log(false, p[:n])
	return n, err
}

func (l *tracedLink) Write(p []byte) (int, error) {
	n, err := l.rw.Write(p)
	l.raw.Log(true, p[:n])
	return n, err
}

func (l *tracedLink) SetReadDeadline(t time.Time) error {
	switch rw := l.rw.(type) {
	case interface{ SetReadDeadline(time.Time) error }:
		return rw.SetReadDeadline(t)
	case interface{ SetReadTimeout(time.Duration) error }:
		return rw.SetReadTimeout(time.Until(t))
	}
	return nil
}
