package config

import (
	"github.com/alecthomas/kong"

	"github.com/Alia5/easycon/internal/cmd"
)

// Log configures the process-wide loggers.
type Log struct {
	Level   string `help:"Log level: trace, debug, info, warn, error" default:"info" enum:"trace,debug,info,warn,error" env:"EASYCON_LOG_LEVEL"`
	File    string `help:"Write logs to this file instead of stdout" env:"EASYCON_LOG_FILE"`
	RawFile string `help:"Dump serial traffic as hex to this file" env:"EASYCON_LOG_RAW_FILE"`
}

// CLI is the root command tree.
type CLI struct {
	Log     Log              `embed:"" prefix:"log."`
	Config  string           `help:"Configuration file (json, yaml or toml)" type:"path" env:"EASYCON_CONFIG"`
	Version kong.VersionFlag `help:"Print the version and exit"`

	Run    cmd.Run           `cmd:"" help:"Emulate the controller firmware"`
	Flash  cmd.Flash         `cmd:"" help:"Flash a program image to a device over serial"`
	Disasm cmd.Disasm        `cmd:"" help:"Disassemble a program image"`
	Status cmd.Status        `cmd:"" help:"Query or drive a running emulator through its control API"`
	Cfg    cmd.ConfigCommand `cmd:"" name:"config" help:"Configuration helpers"`
}
