package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Alia5/easycon/script"
)

type Disasm struct {
	Image string `arg:"" help:"Program image" type:"existingfile"`
	Bare  bool   `help:"The file holds bytecode only, without the EOF header"`
}

// Run is called by Kong when the disasm command is executed.
func (d *Disasm) Run(logger *slog.Logger) error {
	data, err := os.ReadFile(d.Image)
	if err != nil {
		return err
	}
	return d.write(os.Stdout, data, logger)
}

func (d *Disasm) write(w io.Writer, data []byte, logger *slog.Logger) error {
	program := data
	if !d.Bare {
		if len(data) <= script.HeaderSize {
			return fmt.Errorf("%d bytes holds no program after the header", len(data))
		}
		store := script.NewStore(script.NewMemBackend(script.BackendSize(len(data))), len(data))
		if err := store.Write(0, data); err != nil {
			return err
		}
		eof, err := store.EOF()
		if err != nil {
			return err
		}
		autorun, err := store.AutoStart()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "; eof=%d autorun=%t\n", eof, autorun)
		if program, err = store.Program(); err != nil {
			return err
		}
	}

	lines, err := script.Disassemble(program, script.HeaderSize)
	for _, l := range lines {
		fmt.Fprintf(w, "%04d  %-12s %s\n", l.Addr, hex.EncodeToString(l.Bytes), l.Text)
	}
	if err != nil {
		logger.Warn("disassembly stopped early", "error", err)
		return err
	}
	return nil
}
